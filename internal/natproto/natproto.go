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

// Package natproto holds the shared data shapes used by every other
// component of the natblaster coordination engine: observed endpoints,
// buddy identities, and the NAT port-allocation classification.
package natproto

import (
	"fmt"
	"net"
)

// PortAllocClass describes how a NAT picked a source port for a new
// outbound flow, as coarsely inferred from two back-to-back connections.
type PortAllocClass uint8

const (
	// PortAllocUnknown means no classification has happened yet.
	PortAllocUnknown PortAllocClass = iota
	// PortAllocSequential means the second observed source port was the
	// first plus one.
	PortAllocSequential
	// PortAllocRandom means the two observed source ports were not
	// adjacent.
	PortAllocRandom
)

func (c PortAllocClass) String() string {
	switch c {
	case PortAllocSequential:
		return "SEQUENTIAL"
	case PortAllocRandom:
		return "RANDOM"
	default:
		return "UNKNOWN"
	}
}

// Endpoint is an (IP, port) pair as observed on the wire. IP is kept in
// whichever form it was given (4- or 16-byte); Equal compares either
// form correctly. The zero value is the "no endpoint" sentinel.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// IsZero reports whether e carries no address information.
func (e Endpoint) IsZero() bool {
	return len(e.IP) == 0 && e.Port == 0
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Equal compares two endpoints by value.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.IP.Equal(o.IP) && e.Port == o.Port
}

// AddPort returns a copy of e with its port advanced by delta, wrapping
// modulo 65536 as the underlying transport layer would: ports are 16-bit
// and arithmetic on them must wrap, not saturate or overflow into an
// error (spec boundary case: predicted port = observed port + 2 must
// still work when observed port is near 65535).
func (e Endpoint) AddPort(delta int) Endpoint {
	return Endpoint{IP: e.IP, Port: uint16(int(e.Port) + delta)}
}

// BuddyIdentity is the triple a peer advertises in its HELLO message
// describing the buddy it wants to reach: the buddy's external NAT IP,
// the buddy's internal IP, and the buddy's internal port.
type BuddyIdentity struct {
	ExternalIP   net.IP
	InternalIP   net.IP
	InternalPort uint16
}

func (b BuddyIdentity) String() string {
	return fmt.Sprintf("ext=%s int=%s:%d", b.ExternalIP, b.InternalIP, b.InternalPort)
}

// Equal compares two buddy identities by value.
func (b BuddyIdentity) Equal(o BuddyIdentity) bool {
	return b.ExternalIP.Equal(o.ExternalIP) &&
		b.InternalIP.Equal(o.InternalIP) &&
		b.InternalPort == o.InternalPort
}

// BdayStatus is the outcome of a birthday-flood attempt to discover a
// NAT-allocated port for a RANDOM-class peer.
type BdayStatus uint8

const (
	// BdayUnset means the birthday attempt has not concluded.
	BdayUnset BdayStatus = iota
	// BdaySuccess means a matching SYN/ACK was observed and a port
	// recovered.
	BdaySuccess
	// BdayFailed means the birthday attempt timed out or failed.
	BdayFailed
)

// DirectConnStatus is the outcome of the TTL-staged direct connect
// attempt described in spec §4.7.
type DirectConnStatus uint8

const (
	// DirectConnUnset means the attempt has not concluded.
	DirectConnUnset DirectConnStatus = iota
	// DirectConnSuccess means connect() returned without error, or the
	// forged SYN/ACK otherwise completed the handshake.
	DirectConnSuccess
	// DirectConnFailed means the attempt failed or timed out.
	DirectConnFailed
)

// PortAllocInfo bundles the classification result with the predicted
// external port, as recorded once on a session at the end of CONN2.
// PredictedKnown is false for a RANDOM-class session until a birthday
// flood later discovers its port (tracked separately, since the
// port-allocation class itself is set at most once per spec invariant,
// while the discovered port arrives later under its own flag).
type PortAllocInfo struct {
	Class          PortAllocClass
	Predicted      uint16
	PredictedKnown bool
}

// InterfaceAddr resolves the first non-loopback IPv4 address on the
// named interface, or on the first usable non-loopback interface on the
// host when name is empty. It grounds the peer CLI's optional --device
// auto-detection (spec §6) and the original's pcap_lookupdev fallback.
func InterfaceAddr(name string) (iface string, ip net.IP, err error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", nil, fmt.Errorf("listing interfaces: %w", err)
	}

	for _, i := range ifaces {
		if name != "" && i.Name != name {
			continue
		}
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			return i.Name, v4, nil
		}
		if name != "" {
			return "", nil, fmt.Errorf("interface %q has no usable IPv4 address", name)
		}
	}

	if name != "" {
		return "", nil, fmt.Errorf("interface %q not found", name)
	}
	return "", nil, fmt.Errorf("no usable non-loopback interface found")
}
