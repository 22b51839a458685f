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
	"math/rand"
	"net"
	"time"

	"github.com/chongyc/natblaster/internal/rawnet"
)

// floodSyns emits count spoofed SYNs from srcIP toward dstIP:dstPort,
// one per random source port, all carrying the same sequence number and
// ttl too low to reach dstIP's own NAT — grounded on peercon.c's
// flood_syns, which only varies the source port per packet and leaves
// the rest of the skeleton fixed. count and ttl come from Config
// (peerdef.h's SYN_FLOOD_COUNT and low TTL, both overridable).
func floodSyns(ctx context.Context, injector rawnet.Injector, device string, srcIP, dstIP net.IP, dstPort uint16, seq uint32, ttl, count int) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	sk := rawnet.Skeleton{
		SrcIP:   srcIP,
		DstIP:   dstIP,
		DstPort: rawnet.Port(dstPort),
		SeqNum:  seq,
		SYN:     true,
	}

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sk.SrcPort = rawnet.Port(uint16(1 + r.Intn(1<<16-1)))
		if err := injector.Inject(ctx, device, sk, nil, ttl); err != nil {
			return err
		}
	}
	return nil
}

// synAckFlood emits count spoofed SYN/ACKs from (srcIP, srcPort) toward
// dstIP, one per random destination port, each ACKing buddySeq+1 at a
// normal TTL (it must actually reach the buddy's NAT) and carrying its
// own destination port as a 2-byte payload so the buddy's sniffer can
// recover which candidate port got through — grounded on peercon.c's
// synack_flood. count comes from Config (peerdef.h's
// SYN_ACK_FLOOD_COUNT, overridable).
func synAckFlood(ctx context.Context, injector rawnet.Injector, device string, srcIP, dstIP net.IP, srcPort uint16, buddySeq uint32, count int) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		port := uint16(r.Intn(1 << 16))
		sk := rawnet.Skeleton{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: rawnet.Port(srcPort),
			DstPort: rawnet.Port(port),
			SeqNum:  r.Uint32(),
			AckNum:  buddySeq + 1,
			SYN:     true,
			ACK:     true,
		}
		payload := []byte{byte(port >> 8), byte(port)}
		if err := injector.Inject(ctx, device, sk, payload, ttlOK); err != nil {
			return err
		}
	}
	return nil
}
