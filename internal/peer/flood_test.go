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

package peer

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chongyc/natblaster/internal/rawnet"
	"github.com/chongyc/natblaster/internal/rawnet/rawnetmock"
)

// recordingInjector wraps a MockInjector's EXPECT().Inject(...).DoAndReturn
// capture into a plain, mutex-guarded slice the assertions below can
// range over, since gomock itself doesn't expose call arguments after
// the fact.
type recordingInjector struct {
	mu       sync.Mutex
	calls    []rawnet.Skeleton
	payloads [][]byte
}

func (r *recordingInjector) record(sk rawnet.Skeleton, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sk)
	r.payloads = append(r.payloads, payload)
}

func TestFloodSynsVariesSourcePortOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &recordingInjector{}
	injector := rawnetmock.NewMockInjector(ctrl)
	injector.EXPECT().
		Inject(gomock.Any(), "lo", gomock.Any(), gomock.Any(), ttlTooLowDefault).
		DoAndReturn(func(_ context.Context, _ string, sk rawnet.Skeleton, payload []byte, _ int) error {
			rec.record(sk, payload)
			return nil
		}).
		Times(synFloodCountDefault)

	srcIP := net.ParseIP("10.0.0.1")
	dstIP := net.ParseIP("203.0.113.5")

	err := floodSyns(context.Background(), injector, "lo", srcIP, dstIP, 4000, 0xdeadbeef, ttlTooLowDefault, synFloodCountDefault)
	require.NoError(t, err)
	require.Len(t, rec.calls, synFloodCountDefault)

	ports := map[uint16]struct{}{}
	for _, sk := range rec.calls {
		require.Equal(t, srcIP, sk.SrcIP)
		require.Equal(t, dstIP, sk.DstIP)
		require.NotNil(t, sk.DstPort)
		require.EqualValues(t, 4000, *sk.DstPort)
		require.EqualValues(t, 0xdeadbeef, sk.SeqNum)
		require.True(t, sk.SYN)
		require.False(t, sk.ACK)
		require.NotNil(t, sk.SrcPort)
		ports[*sk.SrcPort] = struct{}{}
	}
	require.Greater(t, len(ports), synFloodCountDefault/2, "source ports should vary across the flood")
}

func TestSynAckFloodCarriesDestPortAsPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &recordingInjector{}
	injector := rawnetmock.NewMockInjector(ctrl)
	injector.EXPECT().
		Inject(gomock.Any(), "lo", gomock.Any(), gomock.Any(), ttlOK).
		DoAndReturn(func(_ context.Context, _ string, sk rawnet.Skeleton, payload []byte, _ int) error {
			rec.record(sk, payload)
			return nil
		}).
		Times(synAckFloodCountDefault)

	srcIP := net.ParseIP("10.0.0.1")
	dstIP := net.ParseIP("203.0.113.5")

	err := synAckFlood(context.Background(), injector, "lo", srcIP, dstIP, 5000, 0x1234, synAckFloodCountDefault)
	require.NoError(t, err)
	require.Len(t, rec.calls, synAckFloodCountDefault)

	destPorts := map[uint16]struct{}{}
	for i, sk := range rec.calls {
		require.Equal(t, srcIP, sk.SrcIP)
		require.Equal(t, dstIP, sk.DstIP)
		require.NotNil(t, sk.SrcPort)
		require.EqualValues(t, 5000, *sk.SrcPort)
		require.EqualValues(t, 0x1234+1, sk.AckNum)
		require.True(t, sk.SYN)
		require.True(t, sk.ACK)
		require.NotNil(t, sk.DstPort)

		payload := rec.payloads[i]
		require.Len(t, payload, 2)
		require.Equal(t, *sk.DstPort, binary.BigEndian.Uint16(payload))
		destPorts[*sk.DstPort] = struct{}{}
	}
	require.Greater(t, len(destPorts), synAckFloodCountDefault/2, "destination ports should vary across the flood")
}
