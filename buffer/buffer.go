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

// Package buffer implements the bridge's ownership-tracked byte buffers:
// the three kinds crossing the native/managed boundary (external,
// managed, borrowed), each carrying an owner tag and a generation
// counter so a stale view can never be mistaken for a live one.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxLength bounds any single buffer's length; adapters reject anything
// larger before it ever reaches a handler.
const MaxLength = 128 << 20 // 128 MiB

// Owner identifies who is responsible for releasing a Buffer's backing
// store.
type Owner int

const (
	// OwnerExternal wraps memory owned by something outside the bridge
	// (typically the kernel's read buffer); it is released exactly once
	// via its Release func when the last holder drops it.
	OwnerExternal Owner = iota

	// OwnerManaged is bridge-owned memory, zero-filled on allocation and
	// recycled through the package's pool on release.
	OwnerManaged

	// OwnerBorrowed is caller-owned memory the bridge never releases;
	// Release is a no-op.
	OwnerBorrowed
)

func (o Owner) String() string {
	switch o {
	case OwnerExternal:
		return "external"
	case OwnerManaged:
		return "managed"
	case OwnerBorrowed:
		return "borrowed"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

// ErrAlreadyReleased is returned by Release when called after the
// buffer has already transferred ownership or been released; by
// contract this is a documented no-op, not necessarily an error the
// caller must branch on, but it is still reported so callers auditing
// for double-release bugs can catch it.
var ErrAlreadyReleased = errors.New("buffer: already released")

// ErrInvalidBuffer is returned by New for a base/length combination that
// fails validation.
type ErrInvalidBuffer struct {
	Why string
}

func (e *ErrInvalidBuffer) Error() string {
	return "buffer: invalid: " + e.Why
}

// managedPool recycles the backing arrays of released managed buffers,
// the same role the teacher's freelist-based MessageProvider played for
// kernel message buffers, adapted here to a generic byte-slice pool
// instead of a fixed-struct freelist.
var managedPool = sync.Pool{
	New: func() interface{} {
		return new([]byte)
	},
}

// releaseFunc is invoked exactly once, the first time Release succeeds,
// to free an external buffer's backing store.
type releaseFunc func()

// Buffer is a single ownership-tracked byte range. The zero value is not
// valid; use New.
type Buffer struct {
	data       []byte
	owner      Owner
	generation uint64
	release    releaseFunc
	released   atomic.Bool
	mu         sync.Mutex
}

// New validates base/length and constructs a Buffer of the given
// ownership kind. release is invoked (at most once) when an
// OwnerExternal buffer is released; it is ignored for other kinds.
func New(owner Owner, data []byte, generation uint64, release releaseFunc) (*Buffer, error) {
	if data == nil {
		return nil, &ErrInvalidBuffer{"nil base"}
	}
	if len(data) > MaxLength {
		return nil, &ErrInvalidBuffer{fmt.Sprintf("length %d exceeds limit %d", len(data), MaxLength)}
	}

	return &Buffer{
		data:       data,
		owner:      owner,
		generation: generation,
		release:    release,
	}, nil
}

// NewManaged allocates a zero-filled managed buffer of the given length,
// reusing a pooled backing array when one of sufficient capacity is
// available.
func NewManaged(length int, generation uint64) (*Buffer, error) {
	if length < 0 || length > MaxLength {
		return nil, &ErrInvalidBuffer{fmt.Sprintf("length %d out of range", length)}
	}

	slot := managedPool.Get().(*[]byte)
	buf := *slot
	if cap(buf) < length {
		buf = make([]byte, length)
	} else {
		buf = buf[:length]
		for i := range buf {
			buf[i] = 0
		}
	}
	*slot = nil // the pooled slot itself is not reused until Release below re-donates a slice.

	b := &Buffer{
		data:       buf,
		owner:      OwnerManaged,
		generation: generation,
	}
	b.release = func() {
		donated := buf
		managedPool.Put(&donated)
	}
	return b, nil
}

// NewBorrowed wraps caller-owned memory; Release never frees it.
func NewBorrowed(data []byte, generation uint64) (*Buffer, error) {
	return New(OwnerBorrowed, data, generation, nil)
}

// Bytes returns the buffer's backing slice. The returned slice must not
// be retained past Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len reports the buffer's length.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Owner reports the ownership kind.
func (b *Buffer) Owner() Owner {
	return b.owner
}

// Generation reports the buffer's generation counter, used by callers
// to detect a stale handle to a reused slot.
func (b *Buffer) Generation() uint64 {
	return b.generation
}

// Release frees the buffer's backing store exactly once. A second call
// is a documented no-op that returns ErrAlreadyReleased rather than
// double-freeing.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.release != nil {
		b.release()
	}
	b.data = nil
	return nil
}

// Transfer moves ownership of the buffer's contents to a new Buffer
// value and invalidates this one; subsequent use of b (other than
// Release, which becomes a no-op) is a programming error. This models
// §4.2's "cross-boundary transfer moves ownership; the source view is
// invalidated."
func (b *Buffer) Transfer() (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return nil, ErrAlreadyReleased
	}

	out := &Buffer{
		data:       b.data,
		owner:      b.owner,
		generation: b.generation,
		release:    b.release,
	}

	// The source is marked released without running its release func,
	// since ownership (and the obligation to eventually call it) now
	// belongs to out.
	b.released.Store(true)
	b.data = nil
	b.release = nil

	return out, nil
}
