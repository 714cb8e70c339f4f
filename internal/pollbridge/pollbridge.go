// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pollbridge implements the poll/notify bridge (C8): retained
// poll handles keyed by the kernel's opaque key, and the teardown
// bookkeeping that keeps notify/destroy idempotent.
package pollbridge

import "sync"

// NotifyFunc actually signals the kernel that readiness changed for a
// handle. It may be nil, in which case NotifyPollHandle only reports
// whether key is live; the session (C6) constructs its Bridge with nil.
type NotifyFunc func(key uint64, urgent bool) error

type handle struct {
	key      uint64
	refCount int
	alive    bool
}

// Bridge owns the live poll-handle map.
type Bridge struct {
	mu      sync.Mutex
	handles map[uint64]*handle
	notify  NotifyFunc
}

// New constructs a Bridge that calls notify to actually reach the
// kernel.
func New(notify NotifyFunc) *Bridge {
	return &Bridge{handles: make(map[uint64]*handle), notify: notify}
}

// Register records interest in key, bumping its reference count if
// already known. The poll operation adapter in internal/adapter does
// not call it; a key becomes live only when a holder of the Bridge
// registers it.
func (b *Bridge) Register(key uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.handles[key]
	if !ok {
		h = &handle{key: key, alive: true}
		b.handles[key] = h
	}
	h.refCount++
}

// NotifyPollHandle signals the kernel that key's readiness has
// changed. Returns false if key is unknown (never registered, or
// already destroyed), matching the "returns false if the key is
// unknown" contract; has no side effect in that case.
func (b *Bridge) NotifyPollHandle(key uint64, urgent bool) bool {
	b.mu.Lock()
	h, ok := b.handles[key]
	if !ok || !h.alive {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	if b.notify != nil {
		_ = b.notify(key, urgent)
	}
	return true
}

// DestroyPollHandle drops one reference to key and returns true while
// key is live. The handle leaves the live set when its last reference
// is dropped; every call after that returns false.
func (b *Bridge) DestroyPollHandle(key uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.handles[key]
	if !ok || !h.alive {
		return false
	}

	h.refCount--
	if h.refCount > 0 {
		return true
	}

	h.alive = false
	delete(b.handles, key)
	return true
}

// Len reports how many handles are currently live; used by shutdown to
// log/verify teardown completeness.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// DestroyAll tears down every still-live handle, used during shutdown.
func (b *Bridge) DestroyAll() {
	b.mu.Lock()
	keys := make([]uint64, 0, len(b.handles))
	for k := range b.handles {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		for b.DestroyPollHandle(k) {
			// Drain any remaining references to force the handle closed
			// during teardown, rather than leaving it pinned by a ref count
			// no one will ever decrement again.
		}
	}
}
