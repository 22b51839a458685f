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

// Package wire implements the length-prefixed framing natblaster's
// helper and peer programs use to talk to each other: an 8-byte
// big-endian header (message type, payload length) followed by the
// payload. The schema is defined here, independent of any in-memory
// struct layout, per the "packed structs sent over the wire" design
// note: offsets and widths are explicit, not inferred from a Go type.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	version "github.com/hashicorp/go-version"
)

// ProtocolVersion is this implementation's wire-protocol version. The
// original has no version negotiation message of its own (the message
// catalogue below is the entire protocol surface), so it is never sent
// on the wire; the helper reports it in its startup log.
var ProtocolVersion = version.Must(version.NewVersion("1.0.0"))

// MinClientVersion is the oldest peer client version this protocol
// version is compatible with. The helper reports it in its startup log;
// peers do not send a version, so no comparison against it is made.
var MinClientVersion = version.Must(version.NewVersion("1.0.0"))

// MessageType is the opaque tag identifying a frame's payload shape.
// Numeric values are bit-exact with the original protocol.
type MessageType uint32

// Message catalogue, per the wire protocol table. Values are kept
// exactly as the original assigns them so a capture of the wire traffic
// is byte-for-byte comparable to the historical implementation.
const (
	Hello                MessageType = 0x0001
	ConnectAgain         MessageType = 0x1000
	ConnectedAgain       MessageType = 0x0002
	PortPred             MessageType = 0x1002
	WaitingForBuddyAlloc MessageType = 0x0003
	BuddyAlloc           MessageType = 0x1003
	WaitingForBuddyPort  MessageType = 0x0004
	BuddyPort            MessageType = 0x1004
	BuddySynSeq          MessageType = 0x0005
	PeerSynSeq           MessageType = 0x1005
	Goodbye              MessageType = 0x0006
	SynFlooded           MessageType = 0x0101
	BuddySynAckFlooded   MessageType = 0x1101
	BdaySuccessPort      MessageType = 0x0102
	WaitingToSynAckFlood MessageType = 0x0201
	SynAckFloodSeqNum    MessageType = 0x1201
	SynAckFloodDone      MessageType = 0x0202
)

func (t MessageType) String() string {
	switch t {
	case Hello:
		return "HELLO"
	case ConnectAgain:
		return "CONNECT_AGAIN"
	case ConnectedAgain:
		return "CONNECTED_AGAIN"
	case PortPred:
		return "PORT_PRED"
	case WaitingForBuddyAlloc:
		return "WAITING_FOR_BUDDY_ALLOC"
	case BuddyAlloc:
		return "BUDDY_ALLOC"
	case WaitingForBuddyPort:
		return "WAITING_FOR_BUDDY_PORT"
	case BuddyPort:
		return "BUDDY_PORT"
	case BuddySynSeq:
		return "BUDDY_SYN_SEQ"
	case PeerSynSeq:
		return "PEER_SYN_SEQ"
	case Goodbye:
		return "GOODBYE"
	case SynFlooded:
		return "SYN_FLOODED"
	case BuddySynAckFlooded:
		return "BUDDY_SYN_ACK_FLOODED"
	case BdaySuccessPort:
		return "BDAY_SUCCESS_PORT"
	case WaitingToSynAckFlood:
		return "WAITING_TO_SYN_ACK_FLOOD"
	case SynAckFloodSeqNum:
		return "SYN_ACK_FLOOD_SEQ_NUM"
	case SynAckFloodDone:
		return "SYN_ACK_FLOOD_DONE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04x)", uint32(t))
	}
}

const (
	// HeaderLen is the size in bytes of the type+length prefix.
	HeaderLen = 8
	// MaxFrameLen is the maximum total frame size, header included.
	MaxFrameLen = 1024
	// MaxPayloadLen is the maximum payload a frame may carry.
	MaxPayloadLen = MaxFrameLen - HeaderLen
)

// ErrFrameTooLarge is returned when a declared payload length would make
// the frame exceed MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

// ErrUnexpectedType is returned when a frame's type does not match what
// the caller's protocol state expects. This is a protocol fault, not a
// resynchronization opportunity: the connection must be closed.
type ErrUnexpectedType struct {
	Want, Got MessageType
}

func (e *ErrUnexpectedType) Error() string {
	return fmt.Sprintf("wire: expected message %s, got %s", e.Want, e.Got)
}

// WriteFrame writes a single length-prefixed frame to w.
func WriteFrame(w io.Writer, typ MessageType, payload []byte) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: payload is %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(typ))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: writing frame %s: %w", typ, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, verifying its type
// matches want. Reads loop internally to reassemble a frame split across
// multiple TCP segments.
func ReadFrame(r io.Reader, want MessageType) ([]byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: reading header: %w", err)
	}

	got := MessageType(binary.BigEndian.Uint32(header[0:4]))
	payloadLen := binary.BigEndian.Uint32(header[4:8])

	if payloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: reading payload: %w", err)
		}
	}

	if got != want {
		return nil, &ErrUnexpectedType{Want: want, Got: got}
	}

	return payload, nil
}

// DumpFrame renders a decoded frame as a multi-line spew dump, for
// --loglevel debug call sites that want to see a payload's full
// structure rather than just its type and length.
func DumpFrame(typ MessageType, payload []byte) string {
	return spew.Sprintf("%s payload: %#v", typ, payload)
}
