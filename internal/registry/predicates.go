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

package registry

import "github.com/chongyc/natblaster/internal/natproto"

// SecondConnectionPredicate matches a session whose observed endpoint is
// the same IP as x's, with the port one greater than x's (wrapping
// modulo 65536, per the port-arithmetic boundary case). Used by the
// helper's CONN2 state to find the peer's second TCP connection.
func SecondConnectionPredicate(x *Session) Predicate {
	want := x.Observed.AddPort(1)
	return func(s *Session) bool {
		return s != x && s.Observed.Equal(want)
	}
}

// BuddyPredicate matches the session whose paired buddy is x: the
// structural triple match from spec §3 — x's advertised buddy external
// IP equals the candidate's observed IP and x's advertised buddy
// internal IP/port equal the candidate's self-reported internal
// endpoint (PeerInternal), and the same holds with x and the candidate
// swapped. Both halves must agree.
func BuddyPredicate(x *Session) Predicate {
	return func(s *Session) bool {
		if s == x {
			return false
		}
		xBuddy, xSet := x.Buddy.Get()
		if !xSet {
			return false
		}
		sInternal, sInternalSet := s.PeerInternal.Get()
		if !sInternalSet {
			return false
		}
		if !xBuddy.ExternalIP.Equal(s.Observed.IP) {
			return false
		}
		if !xBuddy.InternalIP.Equal(sInternal.IP) || xBuddy.InternalPort != sInternal.Port {
			return false
		}

		sBuddy, sSet := s.Buddy.Get()
		if !sSet {
			return false
		}
		xInternal, xInternalSet := x.PeerInternal.Get()
		if !xInternalSet {
			return false
		}
		if !sBuddy.ExternalIP.Equal(x.Observed.IP) {
			return false
		}
		if !sBuddy.InternalIP.Equal(xInternal.IP) || sBuddy.InternalPort != xInternal.Port {
			return false
		}
		return true
	}
}

// IdentityPredicate matches a session by pointer equality. Used when a
// caller already holds a *Session and needs a Predicate value, e.g. for
// symmetry with Release's bookkeeping in tests.
func IdentityPredicate(x *Session) Predicate {
	return func(s *Session) bool { return s == x }
}

// PortAllocClassOf is a small helper for tests and FSM code that need a
// session's classification without unpacking the Flag themselves.
func PortAllocClassOf(s *Session) (natproto.PortAllocClass, bool) {
	info, ok := s.PortAlloc.Get()
	if !ok {
		return natproto.PortAllocUnknown, false
	}
	return info.Class, true
}
