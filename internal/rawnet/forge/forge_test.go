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

package forge

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/chongyc/natblaster/internal/rawnet"
)

func TestSerializeProducesDecodableIPv4TCP(t *testing.T) {
	sk := rawnet.Skeleton{
		SrcIP:   net.ParseIP("10.0.0.5"),
		DstIP:   net.ParseIP("5.6.7.8"),
		SrcPort: rawnet.Port(4000),
		DstPort: rawnet.Port(5000),
		SeqNum:  111,
		AckNum:  222,
		SYN:     true,
		ACK:     true,
		Window:  0x6815,
	}

	buf, err := serialize(sk, []byte("hi"), 64)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(buf, layers.LayerTypeIPv4, gopacket.Default)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	require.NotNil(t, ipLayer)
	ip := ipLayer.(*layers.IPv4)
	require.Equal(t, uint16(ipIdentification), ip.Id)
	require.Equal(t, uint8(64), ip.TTL)
	require.True(t, ip.DstIP.Equal(net.ParseIP("5.6.7.8")))

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	require.NotNil(t, tcpLayer)
	tcp := tcpLayer.(*layers.TCP)
	require.True(t, tcp.SYN)
	require.True(t, tcp.ACK)
	require.Equal(t, uint32(111), tcp.Seq)
	require.Equal(t, uint32(222), tcp.Ack)
	require.Equal(t, []byte("hi"), []byte(tcp.Payload))
}
