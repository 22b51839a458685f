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
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := HelloPayload{
		PeerIP:       net.ParseIP("1.2.3.4"),
		PeerPort:     40000,
		BuddyIntIP:   net.ParseIP("10.0.0.5"),
		BuddyIntPort: 4000,
		BuddyExtIP:   net.ParseIP("5.6.7.8"),
	}

	require.NoError(t, WriteFrame(&buf, Hello, payload.Marshal()))

	got, err := ReadFrame(&buf, Hello)
	require.NoError(t, err)

	decoded, err := UnmarshalHello(got)
	require.NoError(t, err)
	require.Equal(t, payload.PeerIP.String(), decoded.PeerIP.String())
	require.Equal(t, payload.PeerPort, decoded.PeerPort)
	require.Equal(t, payload.BuddyExtIP.String(), decoded.BuddyExtIP.String())
}

func TestReadFrameRejectsUnexpectedType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ConnectAgain, nil))

	_, err := ReadFrame(&buf, ConnectedAgain)
	var unexpected *ErrUnexpectedType
	require.ErrorAs(t, err, &unexpected)
	require.Equal(t, ConnectedAgain, unexpected.Want)
	require.Equal(t, ConnectAgain, unexpected.Got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	// Craft a header declaring a payload length that exceeds the max,
	// matching the boundary case: "declared payload length exceeds
	// 1024 minus header".
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x01}) // type = HELLO
	buf.Write([]byte{0x00, 0x00, 0xFF, 0xFF}) // declared length = 65535
	_, err := ReadFrame(&buf, Hello)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, Hello, make([]byte, MaxPayloadLen+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestBuddyPortPayloadRoundTrip(t *testing.T) {
	p := BuddyPortPayload{Port: 50002, BdayNeeded: false}
	decoded, err := UnmarshalBuddyPort(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestBuddyAllocPayloadRoundTrip(t *testing.T) {
	p := BuddyAllocPayload{BuddyClass: natproto.PortAllocRandom, Supported: false}
	decoded, err := UnmarshalBuddyAlloc(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestReadFrameReassemblesSplitReads(t *testing.T) {
	var full bytes.Buffer
	require.NoError(t, WriteFrame(&full, Goodbye, GoodbyePayload{Success: true}.Marshal()))

	// Feed the reader one byte at a time to exercise the internal
	// io.ReadFull reassembly loop.
	r := &oneByteReader{data: full.Bytes()}
	payload, err := ReadFrame(r, Goodbye)
	require.NoError(t, err)

	decoded, err := UnmarshalGoodbye(payload)
	require.NoError(t, err)
	require.True(t, decoded.Success)
}

type oneByteReader struct {
	data []byte
	pos  int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
