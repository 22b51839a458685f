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

package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/chongyc/natblaster/internal/natproto"
)

// This file defines the payload encodings for every message in the
// catalogue. Each Marshal/Unmarshal pair is the single source of truth
// for that message's wire shape; nothing here depends on in-memory
// struct layout.

func putIPv4(b []byte, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	copy(b, v4)
}

// HelloPayload is HELLO's payload: the peer's own internal endpoint and
// the full buddy identity it wants to reach.
type HelloPayload struct {
	PeerIP       net.IP
	PeerPort     uint16
	BuddyIntIP   net.IP
	BuddyIntPort uint16
	BuddyExtIP   net.IP
}

// Marshal encodes p as HELLO's 16-byte payload.
func (p HelloPayload) Marshal() []byte {
	buf := make([]byte, 16)
	putIPv4(buf[0:4], p.PeerIP)
	binary.BigEndian.PutUint16(buf[4:6], p.PeerPort)
	putIPv4(buf[6:10], p.BuddyIntIP)
	binary.BigEndian.PutUint16(buf[10:12], p.BuddyIntPort)
	putIPv4(buf[12:16], p.BuddyExtIP)
	return buf
}

// UnmarshalHello decodes a HELLO payload.
func UnmarshalHello(b []byte) (HelloPayload, error) {
	if len(b) != 16 {
		return HelloPayload{}, fmt.Errorf("wire: HELLO payload must be 16 bytes, got %d", len(b))
	}
	return HelloPayload{
		PeerIP:       net.IPv4(b[0], b[1], b[2], b[3]),
		PeerPort:     binary.BigEndian.Uint16(b[4:6]),
		BuddyIntIP:   net.IPv4(b[6], b[7], b[8], b[9]),
		BuddyIntPort: binary.BigEndian.Uint16(b[10:12]),
		BuddyExtIP:   net.IPv4(b[12], b[13], b[14], b[15]),
	}, nil
}

// PortPredPayload is PORT_PRED's payload: the peer's own classification.
type PortPredPayload struct {
	Class natproto.PortAllocClass
}

func (p PortPredPayload) Marshal() []byte { return []byte{byte(p.Class)} }

func UnmarshalPortPred(b []byte) (PortPredPayload, error) {
	if len(b) != 1 {
		return PortPredPayload{}, fmt.Errorf("wire: PORT_PRED payload must be 1 byte, got %d", len(b))
	}
	return PortPredPayload{Class: natproto.PortAllocClass(b[0])}, nil
}

// BuddyAllocPayload is BUDDY_ALLOC's payload: the buddy's classification
// and whether this pairing is supported (both-RANDOM is not).
type BuddyAllocPayload struct {
	BuddyClass natproto.PortAllocClass
	Supported  bool
}

func (p BuddyAllocPayload) Marshal() []byte {
	buf := make([]byte, 2)
	buf[0] = byte(p.BuddyClass)
	if p.Supported {
		buf[1] = 1
	}
	return buf
}

func UnmarshalBuddyAlloc(b []byte) (BuddyAllocPayload, error) {
	if len(b) != 2 {
		return BuddyAllocPayload{}, fmt.Errorf("wire: BUDDY_ALLOC payload must be 2 bytes, got %d", len(b))
	}
	return BuddyAllocPayload{
		BuddyClass: natproto.PortAllocClass(b[0]),
		Supported:  b[1] != 0,
	}, nil
}

// BuddyPortPayload is BUDDY_PORT's payload: the buddy's predicted (or
// birthday-discovered) external port, and whether a birthday flood is
// still needed before the direct connection attempt.
type BuddyPortPayload struct {
	Port       uint16
	BdayNeeded bool
}

func (p BuddyPortPayload) Marshal() []byte {
	buf := make([]byte, 3)
	binary.BigEndian.PutUint16(buf[0:2], p.Port)
	if p.BdayNeeded {
		buf[2] = 1
	}
	return buf
}

func UnmarshalBuddyPort(b []byte) (BuddyPortPayload, error) {
	if len(b) != 3 {
		return BuddyPortPayload{}, fmt.Errorf("wire: BUDDY_PORT payload must be 3 bytes, got %d", len(b))
	}
	return BuddyPortPayload{
		Port:       binary.BigEndian.Uint16(b[0:2]),
		BdayNeeded: b[2] != 0,
	}, nil
}

// SeqNumPayload carries a single 32-bit TCP sequence number. Used by
// BUDDY_SYN_SEQ, PEER_SYN_SEQ, SYN_FLOODED, and SYN_ACK_FLOOD_SEQ_NUM.
type SeqNumPayload struct {
	SeqNum uint32
}

func (p SeqNumPayload) Marshal() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.SeqNum)
	return buf
}

func UnmarshalSeqNum(b []byte) (SeqNumPayload, error) {
	if len(b) != 4 {
		return SeqNumPayload{}, fmt.Errorf("wire: sequence-number payload must be 4 bytes, got %d", len(b))
	}
	return SeqNumPayload{SeqNum: binary.BigEndian.Uint32(b)}, nil
}

// PortPayload carries a single 16-bit port. Used by BDAY_SUCCESS_PORT.
type PortPayload struct {
	Port uint16
}

func (p PortPayload) Marshal() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, p.Port)
	return buf
}

func UnmarshalPort(b []byte) (PortPayload, error) {
	if len(b) != 2 {
		return PortPayload{}, fmt.Errorf("wire: port payload must be 2 bytes, got %d", len(b))
	}
	return PortPayload{Port: binary.BigEndian.Uint16(b)}, nil
}

// GoodbyePayload is GOODBYE's payload: whether the overall attempt
// succeeded from the peer's point of view.
type GoodbyePayload struct {
	Success bool
}

func (p GoodbyePayload) Marshal() []byte {
	if p.Success {
		return []byte{1}
	}
	return []byte{0}
}

func UnmarshalGoodbye(b []byte) (GoodbyePayload, error) {
	if len(b) != 1 {
		return GoodbyePayload{}, fmt.Errorf("wire: GOODBYE payload must be 1 byte, got %d", len(b))
	}
	return GoodbyePayload{Success: b[0] != 0}, nil
}
