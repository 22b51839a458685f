/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package helper

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/registry"
	"github.com/chongyc/natblaster/internal/wire"
)

// TestHappyPathBothSequential drives two in-process sessions through the
// full state machine, matching spec's concrete scenario 1: both peers
// classify SEQUENTIAL, pair up, and exchange SYN sequence numbers ending
// in GOODBYE(success).
func TestHappyPathBothSequential(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecondConnTimeout = time.Second
	cfg.BuddyFindTimeout = time.Second
	cfg.BuddyAllocTimeout = time.Second
	cfg.BuddyPortTimeout = time.Second
	cfg.BuddySeqTimeout = time.Second

	reg := registry.New()
	metrics := NewMetrics()

	aObserved := natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}
	bObserved := natproto.Endpoint{IP: net.ParseIP("5.6.7.8"), Port: 50000}

	aInternal := natproto.Endpoint{IP: net.ParseIP("10.0.0.5"), Port: 4000}
	bInternal := natproto.Endpoint{IP: net.ParseIP("10.0.1.5"), Port: 5000}

	// A's second connection: present in the registry so CONN2 classifies
	// session A as SEQUENTIAL.
	aSecond := registry.NewSession(aObserved.AddPort(1), nil)
	reg.Insert(aSecond)
	bSecond := registry.NewSession(bObserved.AddPort(1), nil)
	reg.Insert(bSecond)

	connA, peerA := net.Pipe()
	connB, peerB := net.Pipe()

	sessA := registry.NewSession(aObserved, connA)
	sessB := registry.NewSession(bObserved, connB)
	reg.Insert(sessA)
	reg.Insert(sessB)

	workerA := &worker{cfg: cfg, reg: reg, metrics: metrics, conn: connA, sess: sessA}
	workerB := &worker{cfg: cfg, reg: reg, metrics: metrics, conn: connB, sess: sessB}

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- workerA.run(context.Background()) }()
	go func() { errB <- workerB.run(context.Background()) }()

	peerErrA := make(chan error, 1)
	peerErrB := make(chan error, 1)
	go func() {
		peerErrA <- runPeerScript(peerA, aInternal, bInternal, bObserved.IP, 111, 222, bObserved.AddPort(2).Port)
	}()
	go func() {
		peerErrB <- runPeerScript(peerB, bInternal, aInternal, aObserved.IP, 222, 111, aObserved.AddPort(2).Port)
	}()

	require.NoError(t, waitErr(t, peerErrA))
	require.NoError(t, waitErr(t, peerErrB))
	require.NoError(t, waitErr(t, errA))
	require.NoError(t, waitErr(t, errB))

	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Paired))
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for goroutine")
		return nil
	}
}

// runPeerScript plays the peer side of the happy-path exchange over
// conn, matching spec's message sequence exactly.
func runPeerScript(conn net.Conn, self, buddyInternal natproto.Endpoint, buddyExtIP net.IP, mySeq, buddySeq uint32, wantPort uint16) error {
	defer conn.Close()

	hello := wire.HelloPayload{
		PeerIP:       self.IP,
		PeerPort:     self.Port,
		BuddyIntIP:   buddyInternal.IP,
		BuddyIntPort: buddyInternal.Port,
		BuddyExtIP:   buddyExtIP,
	}
	if err := wire.WriteFrame(conn, wire.Hello, hello.Marshal()); err != nil {
		return err
	}
	if _, err := wire.ReadFrame(conn, wire.ConnectAgain); err != nil {
		return err
	}

	if err := wire.WriteFrame(conn, wire.ConnectedAgain, nil); err != nil {
		return err
	}
	pp, err := wire.ReadFrame(conn, wire.PortPred)
	if err != nil {
		return err
	}
	portPred, err := wire.UnmarshalPortPred(pp)
	if err != nil {
		return err
	}
	if portPred.Class != natproto.PortAllocSequential {
		return errUnexpected("expected SEQUENTIAL classification")
	}

	if err := wire.WriteFrame(conn, wire.WaitingForBuddyAlloc, nil); err != nil {
		return err
	}
	ba, err := wire.ReadFrame(conn, wire.BuddyAlloc)
	if err != nil {
		return err
	}
	buddyAlloc, err := wire.UnmarshalBuddyAlloc(ba)
	if err != nil {
		return err
	}
	if !buddyAlloc.Supported {
		return errUnexpected("expected supported pairing")
	}

	if err := wire.WriteFrame(conn, wire.WaitingForBuddyPort, nil); err != nil {
		return err
	}
	bp, err := wire.ReadFrame(conn, wire.BuddyPort)
	if err != nil {
		return err
	}
	buddyPort, err := wire.UnmarshalBuddyPort(bp)
	if err != nil {
		return err
	}
	if buddyPort.BdayNeeded {
		return errUnexpected("expected no birthday flood")
	}
	if buddyPort.Port != wantPort {
		return errUnexpected("unexpected predicted port")
	}

	if err := wire.WriteFrame(conn, wire.BuddySynSeq, wire.SeqNumPayload{SeqNum: mySeq}.Marshal()); err != nil {
		return err
	}
	psp, err := wire.ReadFrame(conn, wire.PeerSynSeq)
	if err != nil {
		return err
	}
	peerSynSeq, err := wire.UnmarshalSeqNum(psp)
	if err != nil {
		return err
	}
	if peerSynSeq.SeqNum != buddySeq {
		return errUnexpected("unexpected buddy sequence number")
	}

	return wire.WriteFrame(conn, wire.Goodbye, wire.GoodbyePayload{Success: true}.Marshal())
}

type scriptError string

func (e scriptError) Error() string { return string(e) }

func errUnexpected(msg string) error { return scriptError(msg) }
