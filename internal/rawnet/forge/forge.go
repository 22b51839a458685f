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

// Package forge implements rawnet.Injector: gopacket.SerializeLayers
// builds the IPv4+TCP segment (checksums, lengths) exactly as the
// original libnet-based spoof.c assembled its packet (TOS 0, no
// fragmentation, fixed IP ID, caller-chosen TTL), and an IP_HDRINCL raw
// socket (golang.org/x/sys/unix) injects it — the kernel still resolves
// the link-layer (Ethernet) framing for us, the same division of labor
// libnet's LIBNET_RAW4 raw-socket mode had versus its LIBNET_LINK mode.
package forge

import (
	"context"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	"github.com/chongyc/natblaster/internal/rawnet"
)

// ipIdentification matches the original spoof.c's fixed IP ID field.
const ipIdentification = 242

// Forger injects packets via an IP_HDRINCL raw socket bound to device.
type Forger struct{}

var _ rawnet.Injector = (*Forger)(nil)

// Inject builds an IPv4/TCP segment from sk and payload and sends it to
// sk.DstIP. device selects the outbound interface via SO_BINDTODEVICE;
// an empty device lets the kernel route normally.
func (f *Forger) Inject(ctx context.Context, device string, sk rawnet.Skeleton, payload []byte, ttl int) error {
	buf, err := serialize(sk, payload, ttl)
	if err != nil {
		return fmt.Errorf("forge: serializing packet: %w", err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return fmt.Errorf("forge: opening raw socket: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		return fmt.Errorf("forge: setting IP_HDRINCL: %w", err)
	}
	if device != "" {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device); err != nil {
			return fmt.Errorf("forge: binding to device %s: %w", device, err)
		}
	}

	dst := normalizeIP(sk.DstIP)
	addr := unix.SockaddrInet4{}
	copy(addr.Addr[:], dst.To4())

	if err := unix.Sendto(fd, buf, 0, &addr); err != nil {
		return fmt.Errorf("forge: sending to %s: %w", dst, err)
	}
	return nil
}

func serialize(sk rawnet.Skeleton, payload []byte, ttl int) ([]byte, error) {
	srcPort := uint16(0)
	if sk.SrcPort != nil {
		srcPort = *sk.SrcPort
	}
	dstPort := uint16(0)
	if sk.DstPort != nil {
		dstPort = *sk.DstPort
	}

	ip := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TOS:        0,
		Id:         ipIdentification,
		Flags:      0,
		FragOffset: 0,
		TTL:        uint8(ttl),
		Protocol:   layers.IPProtocolTCP,
		SrcIP:      normalizeIP(sk.SrcIP),
		DstIP:      normalizeIP(sk.DstIP),
	}

	tcp := &layers.TCP{
		SrcPort:    layers.TCPPort(srcPort),
		DstPort:    layers.TCPPort(dstPort),
		Seq:        sk.SeqNum,
		Ack:        sk.AckNum,
		SYN:        sk.SYN,
		ACK:        sk.ACK,
		Window:     sk.Window,
		DataOffset: 5,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("setting checksum network layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serializing layers: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return net.IPv4zero
}
