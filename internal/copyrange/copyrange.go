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

// Package copyrange implements the copy-range adapter (C9):
// copy_file_range's kernel fastpath plus a chunked read/write fallback
// for when the underlying file system doesn't support it.
package copyrange

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fusebridge/fusebridge/fuseops"
)

// DefaultChunkSize is used by the fallback loop when none is
// configured.
const DefaultChunkSize = 128 * 1024

// Reader reads from fd at the given offset, mirroring pread(2).
type Reader func(fd int, buf []byte, offset int64) (int, error)

// Writer writes to fd at the given offset, mirroring pwrite(2).
type Writer func(fd int, buf []byte, offset int64) (int, error)

// Stats mirrors the component's exposed counters.
type Stats struct {
	TotalOps          uint64
	TotalBytesCopied  uint64
	KernelPathAvailable bool
}

// Adapter is the C9 copy-range adapter.
type Adapter struct {
	chunkSize atomic.Int64

	kernelAvailable atomic.Bool
	totalOps        atomic.Uint64
	totalBytes      atomic.Uint64

	read  Reader
	write Writer

	mu sync.Mutex
}

// New constructs an Adapter. read/write service the chunked fallback;
// the kernel fastpath is attempted first regardless and only falls
// back to them on ENOSYS.
func New(read Reader, write Writer) *Adapter {
	a := &Adapter{read: read, write: write}
	a.chunkSize.Store(DefaultChunkSize)
	a.kernelAvailable.Store(true)
	return a
}

// SetChunkSize configures the fallback loop's chunk size.
func (a *Adapter) SetChunkSize(n int) {
	if n <= 0 {
		n = DefaultChunkSize
	}
	a.chunkSize.Store(int64(n))
}

// SetKernelFastpathAvailable overrides whether the kernel fastpath is
// attempted before falling back to read/write. Exposed so callers (and
// tests) that know the backing file system never supports
// copy_file_range can skip straight to the portable fallback rather
// than paying for an always-failing syscall on every call.
func (a *Adapter) SetKernelFastpathAvailable(available bool) {
	a.kernelAvailable.Store(available)
}

// ChunkSize reports the current fallback chunk size.
func (a *Adapter) ChunkSize() int {
	return int(a.chunkSize.Load())
}

// CopyFileRange copies up to length bytes from fdIn to fdOut. On the
// kernel fastpath the offsets go to copy_file_range(2) as given, so a
// nil offset uses and advances the fd's file position there. The
// read/write fallback treats a nil offset as 0, neither uses nor moves
// the fd's file position, and does not update supplied offsets.
// Cooperative abort via ctx is honoured between chunks in the fallback
// loop.
func (a *Adapter) CopyFileRange(ctx context.Context, fdIn int, offsetIn *int64, fdOut int, offsetOut *int64, length uint64, flags uint32) (uint64, error) {
	defer a.totalOps.Add(1)

	if a.kernelAvailable.Load() {
		n, err := a.tryKernelFastpath(fdIn, offsetIn, fdOut, offsetOut, length, flags)
		if err == nil {
			a.totalBytes.Add(n)
			return n, nil
		}
		if !isENOSYS(err) {
			return 0, err
		}
		a.kernelAvailable.Store(false)
	}

	n, err := a.fallback(ctx, fdIn, offsetIn, fdOut, offsetOut, length)
	a.totalBytes.Add(n)
	return n, err
}

func isENOSYS(err error) bool {
	if errno, ok := err.(unix.Errno); ok {
		return errno == unix.ENOSYS
	}
	return false
}

func (a *Adapter) tryKernelFastpath(fdIn int, offsetIn *int64, fdOut int, offsetOut *int64, length uint64, flags uint32) (uint64, error) {
	n, err := unix.CopyFileRange(fdIn, offsetIn, fdOut, offsetOut, int(length), int(flags))
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (a *Adapter) fallback(ctx context.Context, fdIn int, offsetIn *int64, fdOut int, offsetOut *int64, length uint64) (uint64, error) {
	chunkSize := a.ChunkSize()
	buf := make([]byte, chunkSize)

	var inOff, outOff int64
	if offsetIn != nil {
		inOff = *offsetIn
	}
	if offsetOut != nil {
		outOff = *offsetOut
	}

	preallocateDest(fdOut, outOff, length)

	var copied uint64
	for copied < length {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return copied, fuseops.NewErrno(fuseops.ErrnoIntr, "")
			default:
			}
		}

		want := length - copied
		if want > uint64(chunkSize) {
			want = uint64(chunkSize)
		}

		n, err := a.read(fdIn, buf[:want], inOff)
		if n > 0 {
			written := 0
			for written < n {
				w, werr := a.write(fdOut, buf[written:n], outOff+int64(written))
				if werr != nil {
					return copied, werr
				}
				written += w
			}
		}
		if err != nil {
			return copied, err
		}
		if n == 0 {
			break // EOF on the source
		}

		copied += uint64(n)
		inOff += int64(n)
		outOff += int64(n)
	}

	return copied, nil
}

// Stats returns a snapshot of the adapter's counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		TotalOps:            a.totalOps.Load(),
		TotalBytesCopied:    a.totalBytes.Load(),
		KernelPathAvailable: a.kernelAvailable.Load(),
	}
}

// ResetStats zeroes the adapter's counters without altering the
// learned kernel-availability flag.
func (a *Adapter) ResetStats() {
	a.totalOps.Store(0)
	a.totalBytes.Store(0)
}
