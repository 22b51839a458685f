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

// Package capture implements rawnet.Sniffer using gopacket/pcap,
// replacing the original sniff.c: open the device promiscuously with a
// "tcp" BPF filter, non-blocking, Ethernet-only, and loop decoding
// frames until one matches the requested skeleton or the stop channel
// closes.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/chongyc/natblaster/internal/rawnet"
)

const (
	snapLen       = 65535
	pollInterval  = 200 * time.Millisecond
	bpfFilterText = "tcp"
)

// Sniffer captures TCP frames via libpcap.
type Sniffer struct{}

var _ rawnet.Sniffer = (*Sniffer)(nil)

// ErrUnsupportedLinkType is returned when the device's link layer is not
// Ethernet, matching the original's "only DLT_EN10MB is supported"
// restriction.
var ErrUnsupportedLinkType = fmt.Errorf("capture: only Ethernet-linked devices are supported")

// ErrStopped is returned when stop closes before a match is found.
var ErrStopped = fmt.Errorf("capture: stopped before a matching frame arrived")

// WaitForTCP opens device and blocks until a frame matching sk is
// captured, ctx is done, or stop is closed.
func (s *Sniffer) WaitForTCP(ctx context.Context, device string, sk rawnet.Skeleton, stop <-chan struct{}) (rawnet.Observed, error) {
	handle, err := pcap.OpenLive(device, snapLen, true, pollInterval)
	if err != nil {
		return rawnet.Observed{}, fmt.Errorf("capture: opening device %s: %w", device, err)
	}
	defer handle.Close()

	if handle.LinkType() != layers.LinkTypeEthernet {
		return rawnet.Observed{}, ErrUnsupportedLinkType
	}

	if err := handle.SetBPFFilter(bpfFilterText); err != nil {
		return rawnet.Observed{}, fmt.Errorf("capture: setting BPF filter: %w", err)
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()

	for {
		select {
		case <-stop:
			return rawnet.Observed{}, ErrStopped
		case <-ctx.Done():
			return rawnet.Observed{}, ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				return rawnet.Observed{}, fmt.Errorf("capture: packet source closed")
			}
			obs, synFlag, ackFlag, ok := decode(pkt)
			if !ok {
				continue
			}
			if sk.Match(obs, synFlag, ackFlag) {
				return obs, nil
			}
		}
	}
}

// decode extracts the IPv4/TCP fields from pkt. ok is false for any
// frame that is not Ethernet→IPv4→TCP.
func decode(pkt gopacket.Packet) (obs rawnet.Observed, syn, ack bool, ok bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return rawnet.Observed{}, false, false, false
	}
	ip, isIP := ipLayer.(*layers.IPv4)
	if !isIP {
		return rawnet.Observed{}, false, false, false
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return rawnet.Observed{}, false, false, false
	}
	tcp, isTCP := tcpLayer.(*layers.TCP)
	if !isTCP {
		return rawnet.Observed{}, false, false, false
	}

	obs = rawnet.Observed{
		SrcIP:   ip.SrcIP,
		DstIP:   ip.DstIP,
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		SeqNum:  tcp.Seq,
		AckNum:  tcp.Ack,
		Window:  tcp.Window,
		Payload: tcp.Payload,
	}
	return obs, tcp.SYN, tcp.ACK, true
}
