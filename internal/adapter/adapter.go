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

// Package adapter implements the operation adapters (C4): one adapter
// per FUSE opcode, each responsible for handler invocation and for
// translating whatever the handler returns into the uniform error
// policy described in the component design (structured errno
// passthrough; anything else logged and reported as EIO).
//
// This package registers FileSystem's methods onto a
// dispatch.Dispatcher under the names in dispatch.AllowedOperations. It
// plays the role the teacher's fuseutil.FileSystem interface and
// fuseutil.NewFileSystemServer dispatch loop played, adapted from a
// switch-on-op-type loop reading a single native connection into a
// name-keyed handler map feeding the dispatcher.
//
// Four opcodes get more than a straight wrap: write and write_buf are
// routed through the C5 write serializer (package writequeue) instead
// of calling the handler inline, copy_file_range is routed through the
// C9 copy-range adapter (package copyrange), and readdir synthesizes
// "." and ".." itself before handing real offsets to the handler.
// read_buf and write_buf additionally thread their payload through the
// C2 ownership-tracked buffer bridge (package buffer).
package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fusebridge/fusebridge/buffer"
	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/fuseutil"
	"github.com/fusebridge/fusebridge/internal/copyrange"
	"github.com/fusebridge/fusebridge/internal/dispatch"
	"github.com/fusebridge/fusebridge/internal/logger"
	"github.com/fusebridge/fusebridge/internal/writequeue"
)

// FileSystem is the full set of operations a handler (e.g. the
// in-memory reference filesystem) implements. Each method is handed an
// already-unmarshalled request value and fills in the "set by the
// handler" fields on it before returning, exactly mirroring the
// contract documented on the corresponding type in package fuseops.
type FileSystem interface {
	Init(ctx context.Context, op *fuseops.InitOp) error
	Destroy(ctx context.Context, op *fuseops.DestroyOp) error

	LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error
	GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error
	SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error
	ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error
	ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error

	MkDir(ctx context.Context, op *fuseops.MkDirOp) error
	MkNod(ctx context.Context, op *fuseops.MkNodOp) error
	Symlink(ctx context.Context, op *fuseops.SymlinkOp) error
	Link(ctx context.Context, op *fuseops.LinkOp) error
	Rename(ctx context.Context, op *fuseops.RenameOp) error
	CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error

	RmDir(ctx context.Context, op *fuseops.RmDirOp) error
	Unlink(ctx context.Context, op *fuseops.UnlinkOp) error

	OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error
	ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error
	ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error
	FsyncDir(ctx context.Context, op *fuseops.SyncFileOp) error

	OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error
	ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error
	ReadFileScatter(ctx context.Context, op *fuseops.ReadFileScatterOp) error
	WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error
	WriteFileScatter(ctx context.Context, op *fuseops.WriteFileScatterOp) error
	SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error
	FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error
	ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error
	Fallocate(ctx context.Context, op *fuseops.FallocateOp) error
	Lseek(ctx context.Context, op *fuseops.LseekOp) error
	CopyFileRange(ctx context.Context, op *fuseops.CopyFileRangeOp) error

	StatFS(ctx context.Context, op *fuseops.StatFSOp) error
	Access(ctx context.Context, op *fuseops.AccessOp) error

	GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error
	SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error
	ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error
	RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error

	Ioctl(ctx context.Context, op *fuseops.IoctlOp) error
	Bmap(ctx context.Context, op *fuseops.BmapOp) error
	Poll(ctx context.Context, op *fuseops.PollOp) error
	Flock(ctx context.Context, op *fuseops.FlockOp) error
	SetLock(ctx context.Context, op *fuseops.SetLockOp) error
	GetLock(ctx context.Context, op *fuseops.GetLockOp) error
}

// DirParentLookup is implemented by a FileSystem that can answer "what
// directory currently holds this inode", letting the readdir adapter
// synthesize ".." without baking directory-entry bookkeeping into this
// package. A FileSystem that doesn't implement it gets a degenerate
// ".." pointing back at the directory itself.
type DirParentLookup interface {
	ParentInode(ctx context.Context, inode fuseops.InodeID) (fuseops.InodeID, error)
}

// Config bounds the two resources the write-queue and copy-range
// wiring need that the FileSystem interface has no room to express:
// how deep a single handle's write queue may grow, and how large a
// chunk the copy-range fallback reads/writes at a time. Zero values
// fall back to each component's own default.
type Config struct {
	MaxWriteQueueSize  int
	CopyChunkSizeBytes int
}

// Wiring is Register's return value: the still-live state a Session
// needs to hold onto across the mount's lifetime, specifically so C7
// (the shutdown coordinator, via Session.drain) can flush or abandon
// whatever writes are still queued when a drain deadline arrives.
type Wiring struct {
	writes    *writeWiring
	copyRange *copyRangeWiring
}

// FlushWrites blocks until every queued write across every handle has
// drained, or timeout expires, mirroring writequeue.FlushAllWriteQueues.
func (w *Wiring) FlushWrites(timeout time.Duration) bool {
	return w.writes.queue.FlushAllWriteQueues(timeout)
}

// AbandonWrites EIO-completes every write still queued, for use once a
// drain deadline has already been missed. Returns the number abandoned.
func (w *Wiring) AbandonWrites() int {
	return w.writes.queue.AbandonAll()
}

// wrap adapts a typed handler into dispatch.Handler, applying the
// uniform error policy: a *fuseops.FuseErrno is returned as-is; any
// other non-nil error is logged and replaced with EIO so the kernel
// reply path never needs to know about arbitrary Go errors.
func wrap[T any](name string, fn func(ctx context.Context, op T) error) dispatch.Handler {
	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		op := arg.(T)
		err := fn(ctx, op)
		if err == nil {
			return op, nil
		}
		if _, ok := fuseops.AsErrno(err); ok {
			return nil, err
		}
		logger.Errorf("adapter: %s handler failed: %v", name, err)
		return nil, fuseops.NewErrno(fuseops.ErrnoIO, name)
	}
}

// Register wires every operation name in dispatch.AllowedOperations to
// the matching FileSystem method. Several wire-level op names alias
// onto a single FileSystem method, matching §4.4's note that
// chmod/chown/truncate/utimens all resolve through setattr's combined
// valid_mask contract.
func Register(d *dispatch.Dispatcher, fs FileSystem, cfg Config) *Wiring {
	must := func(name string, h dispatch.Handler) {
		if err := d.SetOperationHandler(name, h); err != nil {
			panic(err) // only possible if name is outside the closed allowlist, a programming error
		}
	}

	ww := newWriteWiring(fs, cfg.MaxWriteQueueSize)
	cr := &copyRangeWiring{fs: fs, chunkSize: cfg.CopyChunkSizeBytes}

	must("init", wrap("init", fs.Init))
	must("destroy", wrap("destroy", fs.Destroy))

	must("lookup", wrap("lookup", fs.LookUpInode))
	must("getattr", wrap("getattr", fs.GetInodeAttributes))
	must("setattr", wrap("setattr", fs.SetInodeAttributes))
	must("truncate", wrap("truncate", fs.SetInodeAttributes))
	must("chmod", wrap("chmod", fs.SetInodeAttributes))
	must("chown", wrap("chown", fs.SetInodeAttributes))
	must("utimens", wrap("utimens", fs.SetInodeAttributes))
	must("readlink", wrap("readlink", fs.ReadSymlink))

	must("mknod", wrap("mknod", fs.MkNod))
	must("mkdir", wrap("mkdir", fs.MkDir))
	must("symlink", wrap("symlink", fs.Symlink))
	must("link", wrap("link", fs.Link))
	must("rename", wrap("rename", fs.Rename))
	must("create", wrap("create", fs.CreateFile))

	must("rmdir", wrap("rmdir", fs.RmDir))
	must("unlink", wrap("unlink", fs.Unlink))

	must("opendir", wrap("opendir", fs.OpenDir))
	must("readdir", readDirHandler(fs))
	must("releasedir", wrap("releasedir", fs.ReleaseDirHandle))
	must("fsyncdir", wrap("fsyncdir", fs.FsyncDir))

	must("open", wrap("open", fs.OpenFile))
	must("read", wrap("read", fs.ReadFile))
	must("read_buf", readFileScatterHandler(fs))
	must("write", writeFileHandler(ww))
	must("write_buf", writeFileScatterHandler(ww))
	must("fsync", wrap("fsync", fs.SyncFile))
	must("flush", wrap("flush", fs.FlushFile))
	must("release", wrap("release", fs.ReleaseFileHandle))
	must("fallocate", wrap("fallocate", fs.Fallocate))
	must("lseek", wrap("lseek", fs.Lseek))
	must("copy_file_range", copyFileRangeHandler(cr))

	must("statfs", wrap("statfs", fs.StatFS))
	must("access", wrap("access", fs.Access))

	must("getxattr", wrap("getxattr", fs.GetXattr))
	must("setxattr", wrap("setxattr", fs.SetXattr))
	must("listxattr", wrap("listxattr", fs.ListXattr))
	must("removexattr", wrap("removexattr", fs.RemoveXattr))

	must("ioctl", wrap("ioctl", fs.Ioctl))
	must("bmap", wrap("bmap", fs.Bmap))
	must("poll", wrap("poll", fs.Poll))
	must("flock", wrap("flock", fs.Flock))
	must("lock", wrap("lock", fs.Flock))
	must("setlk", wrap("setlk", fs.SetLock))
	must("getlk", wrap("getlk", fs.GetLock))

	return &Wiring{writes: ww, copyRange: cr}
}

////////////////////////////////////////////////////////////////////////
// readdir: "." / ".." synthesis
////////////////////////////////////////////////////////////////////////

// dotOffset and dotDotOffset are the reserved cursor values memfs
// leaves free for these two synthetic entries (see
// internal/memfs/inode.go's entries doc comment: real children start
// at offset 3).
const (
	dotOffset    fuseops.DirOffset = 1
	dotDotOffset fuseops.DirOffset = 2
	firstRealOffset fuseops.DirOffset = 3
)

// readDirHandler wraps fs.ReadDir so that any call asking for an offset
// before firstRealOffset gets "." and ".." synthesized and paginated
// exactly the way fuseutil.PaginateDirents paginates real entries,
// before the handler itself is ever consulted. Once the cursor reaches
// firstRealOffset, calls pass straight through.
func readDirHandler(fs FileSystem) dispatch.Handler {
	real := wrap("readdir", fs.ReadDir)

	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		op := arg.(*fuseops.ReadDirOp)
		if op.Offset >= firstRealOffset {
			return real(ctx, op)
		}

		parent := op.Inode
		if lookup, ok := fs.(DirParentLookup); ok {
			if p, err := lookup.ParentInode(ctx, op.Inode); err == nil {
				parent = p
			}
		}

		dots := []fuseutil.Dirent{
			{Offset: dotOffset, Inode: op.Inode, Name: ".", Type: fuseops.DirectoryFiletype},
			{Offset: dotDotOffset, Inode: parent, Name: "..", Type: fuseops.DirectoryFiletype},
		}

		page := fuseutil.PaginateDirents(dots, op.Offset, op.Size)
		op.Data = page.Data
		return op, nil
	}
}

////////////////////////////////////////////////////////////////////////
// read_buf / write_buf: buffer bridge (C2)
////////////////////////////////////////////////////////////////////////

// bufferGeneration hands out the monotonically increasing generation
// counter every buffer.Buffer carries, so a stale view from a reused
// pool slot can never be mistaken for a live one.
var bufferGeneration atomic.Uint64

func nextGeneration() uint64 {
	return bufferGeneration.Add(1)
}

// readFileScatterHandler calls through to fs.ReadFileScatter, then
// rewraps whatever it returned through the C2 buffer bridge: each
// scatter buffer becomes a managed buffer.Buffer copy, immediately
// transferred so ownership (and the obligation to eventually release
// it) passes to whatever consumes op.Buffers downstream.
func readFileScatterHandler(fs FileSystem) dispatch.Handler {
	real := wrap("read_buf", fs.ReadFileScatter)

	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		reply, err := real(ctx, arg)
		if err != nil {
			return nil, err
		}

		op := reply.(*fuseops.ReadFileScatterOp)
		out := make([][]byte, len(op.Buffers))
		for i, b := range op.Buffers {
			managed, err := buffer.NewManaged(len(b), nextGeneration())
			if err != nil {
				logger.Errorf("adapter: read_buf: %v", err)
				return nil, fuseops.NewErrno(fuseops.ErrnoIO, "read_buf")
			}
			copy(managed.Bytes(), b)

			transferred, err := managed.Transfer()
			if err != nil {
				logger.Errorf("adapter: read_buf: %v", err)
				return nil, fuseops.NewErrno(fuseops.ErrnoIO, "read_buf")
			}
			out[i] = transferred.Bytes()
		}
		op.Buffers = out
		return op, nil
	}
}

////////////////////////////////////////////////////////////////////////
// write / write_buf: write-queue wiring (C5)
////////////////////////////////////////////////////////////////////////

// pendingWrite carries everything writeWiring.execute needs to
// reconstruct a full WriteFileOp/WriteFileScatterOp, since
// writequeue.Op itself only tracks fd/offset/data/priority.
type pendingWrite struct {
	ctx    context.Context
	header fuseops.OpHeader
	inode  fuseops.InodeID
	handle fuseops.HandleID

	scatter bool
	buffers [][]byte
	bufs    []*buffer.Buffer // released once the write lands
}

// writeWiring owns the C5 write serializer and the side-table needed
// to carry each queued op's full context across to its eventual
// execution.
type writeWiring struct {
	queue *writequeue.Queue
	fs    FileSystem

	mu      sync.Mutex
	pending map[uint64]*pendingWrite
}

func newWriteWiring(fs FileSystem, maxQueueSize int) *writeWiring {
	return &writeWiring{
		queue:   writequeue.New(maxQueueSize),
		fs:      fs,
		pending: make(map[uint64]*pendingWrite),
	}
}

// enqueueWrite places a non-scatter write on the serializer and blocks
// until the write serializer's executor has actually run it.
func (w *writeWiring) enqueueWrite(ctx context.Context, op *fuseops.WriteFileOp) error {
	wop, err := w.queue.Enqueue(uint64(op.Handle), op.Offset, op.Data, op.Priority)
	if err != nil {
		return translateQueueErr(err)
	}

	w.mu.Lock()
	w.pending[wop.ID] = &pendingWrite{ctx: ctx, header: op.Header, inode: op.Inode, handle: op.Handle}
	w.mu.Unlock()

	go w.queue.ProcessWriteQueues(w.execute)

	c := wop.Wait()
	return c.Err
}

// enqueueWriteScatter is write_buf's counterpart: the incoming scatter
// buffers are borrowed through the C2 bridge (the bridge never frees
// caller-owned memory, so wrapping them costs nothing but an ownership
// tag) and carried through the side-table rather than through
// writequeue.Op.Data, since a scatter write has no single contiguous
// buffer to hand Enqueue.
func (w *writeWiring) enqueueWriteScatter(ctx context.Context, op *fuseops.WriteFileScatterOp) error {
	bufs := make([]*buffer.Buffer, 0, len(op.Buffers))
	for _, b := range op.Buffers {
		bb, err := buffer.NewBorrowed(b, nextGeneration())
		if err != nil {
			return fuseops.NewErrno(fuseops.ErrnoIO, "write_buf")
		}
		bufs = append(bufs, bb)
	}

	wop, err := w.queue.Enqueue(uint64(op.Handle), op.Offset, nil, op.Priority)
	if err != nil {
		return translateQueueErr(err)
	}

	w.mu.Lock()
	w.pending[wop.ID] = &pendingWrite{
		ctx: ctx, header: op.Header, inode: op.Inode, handle: op.Handle,
		scatter: true, buffers: op.Buffers, bufs: bufs,
	}
	w.mu.Unlock()

	go w.queue.ProcessWriteQueues(w.execute)

	c := wop.Wait()
	return c.Err
}

// execute is the writequeue.Executor every drained op runs through: it
// looks the op up in the side-table, replays it against the
// FileSystem, and releases any buffer-bridge handles it was carrying.
func (w *writeWiring) execute(op *writequeue.Op) (int, error) {
	w.mu.Lock()
	pw := w.pending[op.ID]
	delete(w.pending, op.ID)
	w.mu.Unlock()

	if pw == nil {
		return 0, fuseops.NewErrno(fuseops.ErrnoIO, "write")
	}

	defer func() {
		for _, b := range pw.bufs {
			b.Release()
		}
	}()

	if pw.scatter {
		scatterOp := &fuseops.WriteFileScatterOp{
			Header: pw.header, Inode: pw.inode, Handle: pw.handle,
			Offset: op.Offset, Buffers: pw.buffers,
		}
		if err := w.fs.WriteFileScatter(pw.ctx, scatterOp); err != nil {
			return 0, err
		}
		n := 0
		for _, b := range pw.buffers {
			n += len(b)
		}
		return n, nil
	}

	writeOp := &fuseops.WriteFileOp{
		Header: pw.header, Inode: pw.inode, Handle: pw.handle,
		Offset: op.Offset, Data: op.Data,
	}
	if err := w.fs.WriteFile(pw.ctx, writeOp); err != nil {
		return 0, err
	}
	return len(op.Data), nil
}

func translateQueueErr(err error) error {
	switch {
	case errors.Is(err, writequeue.ErrQueueFull):
		return fuseops.NewErrno(fuseops.ErrnoNoSpc, "write queue full")
	case errors.Is(err, writequeue.ErrShuttingDown):
		return fuseops.NewErrno(fuseops.ErrnoShutdown, "write queue shutting down")
	default:
		return fuseops.NewErrno(fuseops.ErrnoIO, "write")
	}
}

func writeFileHandler(ww *writeWiring) dispatch.Handler {
	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		op := arg.(*fuseops.WriteFileOp)
		if err := ww.enqueueWrite(ctx, op); err != nil {
			if _, ok := fuseops.AsErrno(err); ok {
				return nil, err
			}
			logger.Errorf("adapter: write handler failed: %v", err)
			return nil, fuseops.NewErrno(fuseops.ErrnoIO, "write")
		}
		return op, nil
	}
}

func writeFileScatterHandler(ww *writeWiring) dispatch.Handler {
	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		op := arg.(*fuseops.WriteFileScatterOp)
		if err := ww.enqueueWriteScatter(ctx, op); err != nil {
			if _, ok := fuseops.AsErrno(err); ok {
				return nil, err
			}
			logger.Errorf("adapter: write_buf handler failed: %v", err)
			return nil, fuseops.NewErrno(fuseops.ErrnoIO, "write_buf")
		}
		return op, nil
	}
}

////////////////////////////////////////////////////////////////////////
// copy_file_range: C9 wiring
////////////////////////////////////////////////////////////////////////

// copyRangeWiring adapts CopyFileRangeOp onto copyrange.Adapter. Each
// call gets its own Adapter instance rather than a shared one, since
// the only state worth sharing (the chunk size, the learned
// kernel-availability flag) is cheap to recompute per call and a fresh
// instance avoids any cross-call interference between unrelated
// inode/handle pairs sharing the synthetic fd numbers below.
type copyRangeWiring struct {
	fs        FileSystem
	chunkSize int
}

// synthetic fd numbers handed to copyrange.Adapter; they carry no OS
// meaning; the adapter's Reader/Writer closures dispatch on the
// captured op instead of ever looking at these values.
const (
	fdIn  = 0
	fdOut = 1
)

func (c *copyRangeWiring) CopyFileRange(ctx context.Context, op *fuseops.CopyFileRangeOp) error {
	reader := func(_ int, buf []byte, offset int64) (int, error) {
		readOp := &fuseops.ReadFileOp{
			Header: op.Header, Inode: op.InodeIn, Handle: op.HandleIn,
			Offset: offset, Size: len(buf),
		}
		if err := c.fs.ReadFile(ctx, readOp); err != nil {
			return 0, err
		}
		return copy(buf, readOp.Data), nil
	}

	writer := func(_ int, buf []byte, offset int64) (int, error) {
		writeOp := &fuseops.WriteFileOp{
			Header: op.Header, Inode: op.InodeOut, Handle: op.HandleOut,
			Offset: offset, Data: buf,
		}
		if err := c.fs.WriteFile(ctx, writeOp); err != nil {
			return 0, err
		}
		return len(buf), nil
	}

	a := copyrange.New(reader, writer)
	// memfs (and every other handler this adapter can reach) has no
	// real OS fds to hand the kernel; fdIn/fdOut are synthetic, so the
	// kernel fastpath must never be attempted against them.
	a.SetKernelFastpathAvailable(false)
	if c.chunkSize > 0 {
		a.SetChunkSize(c.chunkSize)
	}

	n, err := a.CopyFileRange(ctx, fdIn, op.OffsetIn, fdOut, op.OffsetOut, op.Length, op.Flags)
	op.BytesCopied = n
	return err
}

func copyFileRangeHandler(cr *copyRangeWiring) dispatch.Handler {
	return func(ctx context.Context, arg interface{}) (interface{}, error) {
		op := arg.(*fuseops.CopyFileRangeOp)
		if err := cr.CopyFileRange(ctx, op); err != nil {
			if _, ok := fuseops.AsErrno(err); ok {
				return nil, err
			}
			logger.Errorf("adapter: copy_file_range handler failed: %v", err)
			return nil, fuseops.NewErrno(fuseops.ErrnoIO, "copy_file_range")
		}
		return op, nil
	}
}
