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

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/chongyc/natblaster/internal/natproto"
	"github.com/stretchr/testify/require"
)

func TestInsertFindIncrementsWatchersAndStaysLinked(t *testing.T) {
	r := New()
	s := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}, nil)
	r.Insert(s)
	require.Equal(t, 1, r.Watchers(s))
	require.Equal(t, 1, r.Count())

	found, err := r.Find(context.Background(), time.Second, IdentityPredicate(s))
	require.NoError(t, err)
	require.Same(t, s, found)
	require.Equal(t, 2, r.Watchers(s))
	require.Equal(t, 1, r.Count())
}

func TestReleaseRemovesAtZeroWatchers(t *testing.T) {
	r := New()
	s := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}, nil)
	r.Insert(s)

	r.Release(s)
	require.Equal(t, 0, r.Count())

	_, err := r.Find(context.Background(), 50*time.Millisecond, IdentityPredicate(s))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindTimeoutLeavesNoLeak(t *testing.T) {
	r := New()
	s := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}, nil)
	r.Insert(s)
	before := r.Watchers(s)

	_, err := r.Find(context.Background(), 30*time.Millisecond, func(*Session) bool { return false })
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, before, r.Watchers(s))
}

func TestFindWakesOnInsertRatherThanPolling(t *testing.T) {
	r := New()
	target := natproto.Endpoint{IP: net.ParseIP("9.9.9.9"), Port: 1234}

	resultCh := make(chan error, 1)
	go func() {
		_, err := r.Find(context.Background(), 5*time.Second, func(s *Session) bool {
			return s.Observed.Equal(target)
		})
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s := NewSession(target, nil)

	start := time.Now()
	r.Insert(s)

	select {
	case err := <-resultCh:
		require.NoError(t, err)
		require.Less(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("Find did not wake up after Insert")
	}
}

func TestSecondConnectionPredicateWrapsPort(t *testing.T) {
	r := New()
	first := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 65535}, nil)
	second := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 0}, nil)
	r.Insert(first)
	r.Insert(second)

	found, err := r.Find(context.Background(), time.Second, SecondConnectionPredicate(first))
	require.NoError(t, err)
	require.Same(t, second, found)
}

func TestBuddyPredicateRequiresSymmetricMatch(t *testing.T) {
	r := New()

	peerObserved := natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}
	buddyObserved := natproto.Endpoint{IP: net.ParseIP("5.6.7.8"), Port: 50000}

	peer := NewSession(peerObserved, nil)
	peer.PeerInternal.Set(natproto.Endpoint{IP: net.ParseIP("10.0.0.5"), Port: 4000})
	peer.Buddy.Set(natproto.BuddyIdentity{
		ExternalIP:   buddyObserved.IP,
		InternalIP:   net.ParseIP("10.0.1.5"),
		InternalPort: 5000,
	})

	buddy := NewSession(buddyObserved, nil)
	buddy.PeerInternal.Set(natproto.Endpoint{IP: net.ParseIP("10.0.1.5"), Port: 5000})
	buddy.Buddy.Set(natproto.BuddyIdentity{
		ExternalIP:   peerObserved.IP,
		InternalIP:   net.ParseIP("10.0.0.5"),
		InternalPort: 4000,
	})

	r.Insert(peer)
	r.Insert(buddy)

	found, err := r.Find(context.Background(), time.Second, BuddyPredicate(peer))
	require.NoError(t, err)
	require.Same(t, buddy, found)
}

func TestBuddyPredicateRejectsAsymmetricClaim(t *testing.T) {
	r := New()

	peerObserved := natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}
	impostorObserved := natproto.Endpoint{IP: net.ParseIP("5.6.7.8"), Port: 50000}

	peer := NewSession(peerObserved, nil)
	peer.PeerInternal.Set(natproto.Endpoint{IP: net.ParseIP("10.0.0.5"), Port: 4000})
	peer.Buddy.Set(natproto.BuddyIdentity{
		ExternalIP:   impostorObserved.IP,
		InternalIP:   net.ParseIP("10.0.1.5"),
		InternalPort: 5000,
	})

	// impostor's own advertised buddy identity does not point back at peer.
	impostor := NewSession(impostorObserved, nil)
	impostor.PeerInternal.Set(natproto.Endpoint{IP: net.ParseIP("10.0.1.5"), Port: 5000})
	impostor.Buddy.Set(natproto.BuddyIdentity{
		ExternalIP:   net.ParseIP("99.99.99.99"),
		InternalIP:   net.ParseIP("10.0.9.9"),
		InternalPort: 9999,
	})

	r.Insert(peer)
	r.Insert(impostor)

	_, err := r.Find(context.Background(), 50*time.Millisecond, BuddyPredicate(peer))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentFindBothIncrementReleaseExactlyOnce(t *testing.T) {
	r := New()
	s := NewSession(natproto.Endpoint{IP: net.ParseIP("1.2.3.4"), Port: 40000}, nil)
	r.Insert(s)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			found, err := r.Find(context.Background(), time.Second, IdentityPredicate(s))
			require.NoError(t, err)
			require.Same(t, s, found)
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	require.Equal(t, 3, r.Watchers(s)) // 1 from Insert + 2 from Find
	r.Release(s)
	r.Release(s)
	require.Equal(t, 1, r.Watchers(s))
	r.Release(s)
	require.Equal(t, 0, r.Count())
}
