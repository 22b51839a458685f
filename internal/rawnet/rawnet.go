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

// Package rawnet defines the raw-packet capability boundary the peer's
// birthday-flood and direct-connection logic sits behind: a packet
// Skeleton describing what to match or forge, and the Injector/Sniffer
// interfaces that isolate the capture+inject surface so FSM logic can be
// tested without a NIC (design note: "isolate the capture+inject
// surface behind a small interface that can be mocked in tests").
package rawnet

import (
	"context"
	"net"
)

// Skeleton is the set of TCP/IP fields a capture or a forge operation
// cares about. For a capture, a nil IP or nil port and a zero SeqNum,
// AckNum or Window mean "any" (the original's IP_UNKNOWN/PORT_UNKNOWN
// wildcard); every other field participates in an exact match. A forge
// uses every field verbatim.
type Skeleton struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort *uint16
	DstPort *uint16
	SeqNum  uint32
	AckNum  uint32
	SYN     bool
	ACK     bool
	Window  uint16
}

// Observed is what a capture match reports back: the packet's actual
// field values, which may differ from the Skeleton's wildcards.
type Observed struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	SeqNum  uint32
	AckNum  uint32
	Window  uint16
	Payload []byte
}

// Injector forges and injects one TCP segment matching sk, wrapped in an
// IPv4 datagram with the given TTL and carrying payload (may be empty),
// on the named device. It implements spec §4.5's forge operation.
type Injector interface {
	Inject(ctx context.Context, device string, sk Skeleton, payload []byte, ttl int) error
}

// Sniffer opens device for promiscuous capture and blocks until a frame
// matching sk arrives, ctx is done, or stop is closed — implementing
// spec §4.6's wait_for_tcp operation. Only Ethernet-linked devices are
// supported; capture on any other link type is a configuration error.
type Sniffer interface {
	WaitForTCP(ctx context.Context, device string, sk Skeleton, stop <-chan struct{}) (Observed, error)
}

// Match reports whether obs satisfies every non-wildcard field of sk,
// per spec §4.6: "matches when every skeleton field that is not
// UNKNOWN equals the packet's field, and the SYN/ACK flag booleans
// match."
func (sk Skeleton) Match(obs Observed, synFlag, ackFlag bool) bool {
	if sk.SrcIP != nil && !sk.SrcIP.Equal(obs.SrcIP) {
		return false
	}
	if sk.DstIP != nil && !sk.DstIP.Equal(obs.DstIP) {
		return false
	}
	if sk.SrcPort != nil && *sk.SrcPort != obs.SrcPort {
		return false
	}
	if sk.DstPort != nil && *sk.DstPort != obs.DstPort {
		return false
	}
	if sk.SeqNum != 0 && sk.SeqNum != obs.SeqNum {
		return false
	}
	if sk.AckNum != 0 && sk.AckNum != obs.AckNum {
		return false
	}
	if sk.Window != 0 && sk.Window != obs.Window {
		return false
	}
	if sk.SYN != synFlag || sk.ACK != ackFlag {
		return false
	}
	return true
}

// Port returns a pointer to a fixed port value, for building a Skeleton
// field that is not a wildcard.
func Port(p uint16) *uint16 { return &p }
