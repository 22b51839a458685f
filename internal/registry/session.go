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

// Package registry implements the shared connection registry (spec
// §4.1): a concurrent collection of session records, name-resolved by
// structural predicate rather than by a single key, with reference
// counting so a record is never freed while another goroutine still
// holds it.
//
// The map+mutex shape is grounded on ptp4u/server/subscription.go's
// syncMapCli/syncMapSub pattern; the find-increments-refcount-under-the-
// same-lock semantics, and the predicates themselves, are grounded on
// the original connlist.c (connlist_add/connlist_find/connlist_forget).
package registry

import (
	"net"
	"sync"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/chongyc/natblaster/internal/syncflag"
)

// Session is one helper-side record for an accepted peer connection.
// Fields are written by exactly one goroutine (the session's own
// worker) and read by at most one other, after that other goroutine has
// looked this session up through the registry and observed the relevant
// flag SET.
type Session struct {
	// Observed is this session's (ip, port) as seen by the helper's
	// accept(); immutable for the session's lifetime, set before the
	// session is inserted into the registry.
	Observed natproto.Endpoint

	// Conn is the TCP connection this session owns exclusively.
	Conn net.Conn

	// PeerInternal is the peer's self-reported internal endpoint from
	// HELLO.
	PeerInternal *syncflag.Flag[natproto.Endpoint]

	// Buddy is the buddy identity this peer advertised in HELLO.
	Buddy *syncflag.Flag[natproto.BuddyIdentity]

	// PortAlloc is this session's own port-allocation classification,
	// set at most once (spec invariant) during the CONN2 state.
	PortAlloc *syncflag.Flag[natproto.PortAllocInfo]

	// SynSeq is the TCP sequence number this session's peer captured
	// sending a SYN to its buddy, reported via BUDDY_SYN_SEQ.
	SynSeq *syncflag.Flag[uint32]

	// Bday carries the birthday sub-protocol's published outcome: the
	// flood sequence number and, on success, the discovered port.
	Bday *BdayState

	// watchers is the reference count; guarded by the owning Registry's
	// mutex, not by Session's own state.
	watchers int
}

// BdayState is the monotonic-flag bookkeeping for the birthday-flood
// sub-protocol (spec §4.3 START_PEER_BDAY/START_BUDDY_BDAY).
type BdayState struct {
	SeqNum *syncflag.Flag[uint32]
	Port   *syncflag.Flag[uint16]
	Status *syncflag.Flag[natproto.BdayStatus]
}

// NewSession allocates a Session with all flags initialized and unset.
func NewSession(observed natproto.Endpoint, conn net.Conn) *Session {
	return &Session{
		Observed:     observed,
		Conn:         conn,
		PeerInternal: syncflag.New[natproto.Endpoint](),
		Buddy:        syncflag.New[natproto.BuddyIdentity](),
		PortAlloc:    syncflag.New[natproto.PortAllocInfo](),
		SynSeq:       syncflag.New[uint32](),
		Bday: &BdayState{
			SeqNum: syncflag.New[uint32](),
			Port:   syncflag.New[uint16](),
			Status: syncflag.New[natproto.BdayStatus](),
		},
	}
}
