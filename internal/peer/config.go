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

// Package peer implements the peer-side half of the protocol: a single
// synchronous state machine (spec §4.4) that talks to a helper, learns
// a buddy's address and NAT behavior, and drives the raw-packet
// subsystem to coax a direct TCP connection out of two NATs that have
// never seen each other's traffic.
//
// Control flow is grounded on original_source/src/peer/peerfsm.c; the
// raw-packet operations it calls out to are grounded on peercon.c,
// sniff.c, spoof.c, and directconn.c.
package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/chongyc/natblaster/internal/rawnet"
)

// TTL and flood-size defaults from the original's peerdef.h. ttlOK is
// never configurable (the forged/real handshake packets must always
// actually reach the buddy); the "too low" TTL and the flood counts are
// exposed on Config per design note §9's "should be probed or
// configurable" (DESIGN.md).
const (
	ttlTooLowDefault        = 2
	ttlOK                   = 64
	synFloodCountDefault    = 502
	synAckFloodCountDefault = 502
)

// Config collects everything one connection attempt needs: the
// helper's address, this peer's own identity, the buddy it wants to
// reach, and the raw-packet capabilities it will drive.
type Config struct {
	HelperIP   net.IP
	HelperPort uint16

	LocalIP   net.IP
	LocalPort uint16

	BuddyExtIP   net.IP
	BuddyIntIP   net.IP
	BuddyIntPort uint16

	// Device is the network interface to capture and forge on. Callers
	// resolve an empty value via natproto.InterfaceAddr before calling
	// Run.
	Device string

	// Random simulates a RANDOM-class NAT for local testing by moving
	// the persistent helper connection's local port one further away
	// from LocalPort, which breaks the adjacency the helper's
	// second-connection predicate looks for (spec §6: peer CLI
	// --random).
	Random bool

	DirectConnTimeout time.Duration
	FindSynAckTimeout time.Duration

	// TooLowTTL is the deliberately-doomed TTL the direct-connect
	// worker and the SYN flood use to open this peer's own NAT mapping
	// without the packet reaching the buddy. Overridable via an
	// optional YAML config file (LoadConfigFile).
	TooLowTTL int
	// SynFloodCount and SynAckFloodCount bound the birthday floods
	// (spec §4.8/§4.9). Overridable via the same config file.
	SynFloodCount    int
	SynAckFloodCount int

	Injector rawnet.Injector
	Sniffer  rawnet.Sniffer
}

// DefaultConfig returns the timeout and flood-size defaults from
// peerdef.h (DIRECT_CONNECTION_TIMEOUT, FIND_SYN_ACK_TIMEOUT,
// SYN_FLOOD_COUNT, SYN_ACK_FLOOD_COUNT).
func DefaultConfig() Config {
	return Config{
		DirectConnTimeout: 180 * time.Second,
		FindSynAckTimeout: 20 * time.Second,
		TooLowTTL:         ttlTooLowDefault,
		SynFloodCount:     synFloodCountDefault,
		SynAckFloodCount:  synAckFloodCountDefault,
	}
}

// helperPort is the local port the persistent helper connection binds,
// offset from LocalPort so the helper can later use the adjacency of
// this port and secondHelperPort as its SEQUENTIAL/RANDOM signal.
func (c Config) helperPort() uint16 {
	if c.Random {
		return c.LocalPort - 3
	}
	return c.LocalPort - 2
}

// secondHelperPort is always LocalPort-1: the port-prediction probe
// connection the helper's CONN2 state looks for.
func (c Config) secondHelperPort() uint16 {
	return c.LocalPort - 1
}

// withDefaults fills in any zero-valued tunable with its peerdef.h
// default, so a Config built without DefaultConfig still behaves sanely.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DirectConnTimeout == 0 {
		c.DirectConnTimeout = def.DirectConnTimeout
	}
	if c.FindSynAckTimeout == 0 {
		c.FindSynAckTimeout = def.FindSynAckTimeout
	}
	if c.TooLowTTL == 0 {
		c.TooLowTTL = ttlTooLowDefault
	}
	if c.SynFloodCount == 0 {
		c.SynFloodCount = synFloodCountDefault
	}
	if c.SynAckFloodCount == 0 {
		c.SynAckFloodCount = synAckFloodCountDefault
	}
	return c
}

func (c Config) validate() error {
	if c.HelperIP == nil {
		return fmt.Errorf("peer: Config.HelperIP is required")
	}
	if c.LocalIP == nil {
		return fmt.Errorf("peer: Config.LocalIP is required")
	}
	if c.BuddyExtIP == nil || c.BuddyIntIP == nil {
		return fmt.Errorf("peer: Config.BuddyExtIP and Config.BuddyIntIP are required")
	}
	if c.Injector == nil || c.Sniffer == nil {
		return fmt.Errorf("peer: Config.Injector and Config.Sniffer are required")
	}
	return nil
}
