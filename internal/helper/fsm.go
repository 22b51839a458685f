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

// This file implements the helper's per-session state machine (spec
// §4.3). States are visited strictly in the listed order; any read,
// send, or wait timeout is fatal to the session. Grounded on
// original_source/src/helper/helperfsm.c for control flow, with Go
// errors standing in for the original's goto-style CHECK_FAILED macros.
package helper

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/registry"
	"github.com/chongyc/natblaster/internal/wire"
)

// worker drives one accepted TCP connection's session through the
// helper's state machine.
type worker struct {
	cfg     Config
	reg     *registry.Registry
	metrics *Metrics
	conn    net.Conn
	sess    *registry.Session
	buddy   *registry.Session // set once BUDDY_ALLOC finds it; released on teardown
}

// run executes the full state machine for one session, end to end. The
// caller is responsible for having already Insert()ed sess into reg.
func (w *worker) run(ctx context.Context) error {
	defer w.teardown()

	if err := w.stateHello(); err != nil {
		return fmt.Errorf("HELLO: %w", err)
	}
	if err := w.stateConn2(ctx); err != nil {
		return fmt.Errorf("CONN2: %w", err)
	}
	unsupported, err := w.stateBuddyAlloc(ctx)
	if err != nil {
		return fmt.Errorf("BUDDY_ALLOC: %w", err)
	}
	if unsupported {
		w.metrics.Unsupported.Inc()
		return nil
	}
	if err := w.stateBuddyPort(ctx); err != nil {
		return fmt.Errorf("BUDDY_PORT: %w", err)
	}

	thisClass, _ := registry.PortAllocClassOf(w.sess)
	buddyClass, _ := registry.PortAllocClassOf(w.buddy)

	switch {
	case thisClass == natproto.PortAllocRandom:
		if err := w.stateStartPeerBday(ctx); err != nil {
			return fmt.Errorf("START_PEER_BDAY: %w", err)
		}
		if err := w.stateEndPeerBday(); err != nil {
			return fmt.Errorf("END_PEER_BDAY: %w", err)
		}
	case buddyClass == natproto.PortAllocRandom:
		if err := w.stateStartBuddyBday(ctx); err != nil {
			return fmt.Errorf("START_BUDDY_BDAY: %w", err)
		}
		if err := w.stateEndBuddyBday(ctx); err != nil {
			return fmt.Errorf("END_BUDDY_BDAY: %w", err)
		}
	}

	if err := w.stateDirectConn(ctx); err != nil {
		return fmt.Errorf("DIRECT_CONN: %w", err)
	}
	if err := w.stateGoodbye(); err != nil {
		return fmt.Errorf("GOODBYE: %w", err)
	}

	w.metrics.Paired.Inc()
	return nil
}

// teardown releases any buddy reference held and closes the session's
// socket, matching spec §4.3: "Before any error return, the session
// releases any held reference to a buddy session and closes its
// socket." Done unconditionally via defer so it also runs on the happy
// path.
func (w *worker) teardown() {
	if w.buddy != nil {
		w.reg.Release(w.buddy)
		w.buddy = nil
	}
	_ = w.conn.Close()
}

// stateHello reads HELLO and sends CONNECT_AGAIN.
func (w *worker) stateHello() error {
	payload, err := wire.ReadFrame(w.conn, wire.Hello)
	if err != nil {
		return err
	}
	hello, err := wire.UnmarshalHello(payload)
	if err != nil {
		return err
	}

	w.sess.PeerInternal.Set(natproto.Endpoint{IP: hello.PeerIP, Port: hello.PeerPort})
	w.sess.Buddy.Set(natproto.BuddyIdentity{
		ExternalIP:   hello.BuddyExtIP,
		InternalIP:   hello.BuddyIntIP,
		InternalPort: hello.BuddyIntPort,
	})
	w.reg.NotifyChanged()

	log.Debugf("session %s: HELLO from internal %s wants buddy %s", w.sess.Observed, w.sess.PeerInternal, hello.BuddyExtIP)
	log.Debugf("session %s: %s", w.sess.Observed, wire.DumpFrame(wire.Hello, payload))

	return wire.WriteFrame(w.conn, wire.ConnectAgain, nil)
}

// stateConn2 reads CONNECTED_AGAIN, classifies this session's NAT port
// allocation by searching for its second connection, and sends
// PORT_PRED.
func (w *worker) stateConn2(ctx context.Context) error {
	if _, err := wire.ReadFrame(w.conn, wire.ConnectedAgain); err != nil {
		return err
	}

	var info natproto.PortAllocInfo
	second, err := w.reg.Find(ctx, w.cfg.SecondConnTimeout, registry.SecondConnectionPredicate(w.sess))
	if err == nil {
		info = natproto.PortAllocInfo{
			Class:          natproto.PortAllocSequential,
			Predicted:      w.sess.Observed.AddPort(2).Port,
			PredictedKnown: true,
		}
		w.reg.Release(second)
	} else {
		info = natproto.PortAllocInfo{Class: natproto.PortAllocRandom}
	}

	w.sess.PortAlloc.Set(info)
	w.reg.NotifyChanged()

	return wire.WriteFrame(w.conn, wire.PortPred, wire.PortPredPayload{Class: info.Class}.Marshal())
}

// stateBuddyAlloc reads WAITING_FOR_BUDDY_ALLOC, finds the paired buddy
// session, waits for its classification, and sends BUDDY_ALLOC. Returns
// unsupported=true when both sides are RANDOM, which is a clean
// terminal outcome rather than an error.
func (w *worker) stateBuddyAlloc(ctx context.Context) (unsupported bool, err error) {
	if _, err := wire.ReadFrame(w.conn, wire.WaitingForBuddyAlloc); err != nil {
		return false, err
	}

	buddy, err := w.reg.Find(ctx, w.cfg.BuddyFindTimeout, registry.BuddyPredicate(w.sess))
	if err != nil {
		return false, fmt.Errorf("finding buddy: %w", err)
	}
	w.buddy = buddy

	buddyInfo, err := buddy.PortAlloc.Wait(ctx, w.cfg.BuddyAllocTimeout)
	if err != nil {
		return false, fmt.Errorf("waiting for buddy port-allocation class: %w", err)
	}

	thisInfo, _ := w.sess.PortAlloc.Get()
	bothRandom := thisInfo.Class == natproto.PortAllocRandom && buddyInfo.Class == natproto.PortAllocRandom

	payload := wire.BuddyAllocPayload{BuddyClass: buddyInfo.Class, Supported: !bothRandom}
	if err := wire.WriteFrame(w.conn, wire.BuddyAlloc, payload.Marshal()); err != nil {
		return false, err
	}

	return bothRandom, nil
}

// stateBuddyPort reads WAITING_FOR_BUDDY_PORT and sends BUDDY_PORT
// carrying the buddy's predicted port (already known from stateBuddyAlloc's
// wait) and whether a birthday flood is needed on either side.
func (w *worker) stateBuddyPort(ctx context.Context) error {
	if _, err := wire.ReadFrame(w.conn, wire.WaitingForBuddyPort); err != nil {
		return err
	}

	buddyInfo, err := w.buddy.PortAlloc.Wait(ctx, w.cfg.BuddyPortTimeout)
	if err != nil {
		return fmt.Errorf("waiting for buddy port: %w", err)
	}
	thisInfo, _ := w.sess.PortAlloc.Get()

	bdayNeeded := thisInfo.Class == natproto.PortAllocRandom || buddyInfo.Class == natproto.PortAllocRandom

	payload := wire.BuddyPortPayload{Port: buddyInfo.Predicted, BdayNeeded: bdayNeeded}
	return wire.WriteFrame(w.conn, wire.BuddyPort, payload.Marshal())
}

// stateStartPeerBday runs when this session's own peer is RANDOM: read
// the SYN-flood sequence number it just used, and tell it to expect the
// buddy's forged SYN/ACK flood.
func (w *worker) stateStartPeerBday(context.Context) error {
	payload, err := wire.ReadFrame(w.conn, wire.SynFlooded)
	if err != nil {
		return err
	}
	seq, err := wire.UnmarshalSeqNum(payload)
	if err != nil {
		return err
	}
	w.sess.Bday.SeqNum.Set(seq.SeqNum)
	w.reg.NotifyChanged()

	return wire.WriteFrame(w.conn, wire.BuddySynAckFlooded, nil)
}

// stateEndPeerBday reads the port this peer's NAT let through, publishes
// it, and resends BUDDY_PORT now that the final port is known.
func (w *worker) stateEndPeerBday() error {
	payload, err := wire.ReadFrame(w.conn, wire.BdaySuccessPort)
	if err != nil {
		return err
	}
	port, err := wire.UnmarshalPort(payload)
	if err != nil {
		return err
	}

	w.sess.Bday.Port.Set(port.Port)
	w.sess.Bday.Status.Set(natproto.BdaySuccess)
	w.reg.NotifyChanged()

	resend := wire.BuddyPortPayload{Port: port.Port, BdayNeeded: false}
	return wire.WriteFrame(w.conn, wire.BuddyPort, resend.Marshal())
}

// stateStartBuddyBday runs when the buddy is RANDOM and this session is
// SEQUENTIAL: this peer is about to reply-flood SYN/ACKs toward the
// buddy, so it needs the buddy's own flood sequence number.
func (w *worker) stateStartBuddyBday(ctx context.Context) error {
	if _, err := wire.ReadFrame(w.conn, wire.WaitingToSynAckFlood); err != nil {
		return err
	}

	seq, err := w.buddy.Bday.SeqNum.Wait(ctx, w.cfg.BuddySynFloodTimeout)
	if err != nil {
		return fmt.Errorf("waiting for buddy flood sequence number: %w", err)
	}

	payload := wire.SeqNumPayload{SeqNum: seq}
	return wire.WriteFrame(w.conn, wire.SynAckFloodSeqNum, payload.Marshal())
}

// stateEndBuddyBday confirms the reply flood completed and resends
// BUDDY_PORT with the buddy's discovered port.
func (w *worker) stateEndBuddyBday(ctx context.Context) error {
	if _, err := wire.ReadFrame(w.conn, wire.SynAckFloodDone); err != nil {
		return err
	}

	port, err := w.buddy.Bday.Port.Wait(ctx, w.cfg.BuddyBdayPortTimeout)
	if err != nil {
		return fmt.Errorf("waiting for buddy bday port: %w", err)
	}

	resend := wire.BuddyPortPayload{Port: port, BdayNeeded: false}
	return wire.WriteFrame(w.conn, wire.BuddyPort, resend.Marshal())
}

// stateDirectConn reads the SYN sequence number this peer captured
// sending to its buddy, waits for the buddy's own, and relays it.
func (w *worker) stateDirectConn(ctx context.Context) error {
	payload, err := wire.ReadFrame(w.conn, wire.BuddySynSeq)
	if err != nil {
		return err
	}
	seq, err := wire.UnmarshalSeqNum(payload)
	if err != nil {
		return err
	}
	w.sess.SynSeq.Set(seq.SeqNum)
	w.reg.NotifyChanged()

	buddySeq, err := w.buddy.SynSeq.Wait(ctx, w.cfg.BuddySeqTimeout)
	if err != nil {
		return fmt.Errorf("waiting for buddy SYN sequence number: %w", err)
	}

	reply := wire.SeqNumPayload{SeqNum: buddySeq}
	return wire.WriteFrame(w.conn, wire.PeerSynSeq, reply.Marshal())
}

// stateGoodbye reads the peer's final success/failure report and logs
// it; the helper never fails the session at this point, only logs.
func (w *worker) stateGoodbye() error {
	payload, err := wire.ReadFrame(w.conn, wire.Goodbye)
	if err != nil {
		return err
	}
	goodbye, err := wire.UnmarshalGoodbye(payload)
	if err != nil {
		return err
	}

	if goodbye.Success {
		log.Infof("session %s: GOODBYE success", w.sess.Observed)
		w.metrics.Succeeded.Inc()
	} else {
		log.Infof("session %s: GOODBYE failure", w.sess.Observed)
		w.metrics.Failed.Inc()
	}
	return nil
}
