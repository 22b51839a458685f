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
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Find when no session satisfies the
// predicate before the timeout elapses.
var ErrNotFound = errors.New("registry: no matching session found")

// Registry is the shared connection registry. A single mutex serializes
// Insert, Find, Release, and Count, matching spec §4.1's concurrency
// model: "a single mutex serializes insert, find, release, count."
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	notify   chan struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		notify:   make(chan struct{}),
	}
}

// wake closes and replaces the notify channel, waking every goroutine
// currently blocked in Find. Must be called with mu held.
func (r *Registry) wake() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// Insert atomically adds s to the registry with watcher count 1.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.watchers = 1
	r.sessions[s] = struct{}{}
	r.wake()
}

// Predicate reports whether s matches some search criterion. It must not
// block and must not mutate s.
type Predicate func(s *Session) bool

// Find returns the first session for which pred holds, incrementing its
// watcher count before releasing the lock — the critical section that
// spec §4.1 calls out as covering "both the search and the refcount
// increment": any narrower and a concurrent Release could free the
// record before the finder observes it.
//
// Find rescans instead of scanning once: the FSM call sites expect a
// bounded wait while the paired session is still being established. It
// rescans immediately whenever Insert or NotifyChanged calls wake(),
// falling back to timeout if nothing relevant ever happens within it.
func (r *Registry) Find(ctx context.Context, timeout time.Duration, pred Predicate) (*Session, error) {
	deadline := time.Now().Add(timeout)

	for {
		r.mu.Lock()
		for s := range r.sessions {
			if pred(s) {
				s.watchers++
				r.mu.Unlock()
				return s, nil
			}
		}
		wait := r.notify
		r.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotFound
		}

		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return nil, ErrNotFound
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Release decrements s's watcher count; when it reaches zero, s is
// removed from the registry. Release must be called exactly once per
// successful Insert and once per successful Find.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.watchers--
	if s.watchers <= 0 {
		delete(r.sessions, s)
	}
}

// Count returns the current number of sessions in the registry.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Watchers returns s's current watcher count, for tests and metrics.
func (r *Registry) Watchers(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.watchers
}

// NotifyChanged wakes any goroutine blocked in Find. Call it after
// setting a flag on a session that a Predicate elsewhere might depend on
// (e.g. PeerInternal, Buddy, PortAlloc), since those flags live outside
// the registry's own map and wouldn't otherwise trigger a wakeup.
func (r *Registry) NotifyChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake()
}
