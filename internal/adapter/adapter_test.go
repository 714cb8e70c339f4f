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

package adapter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/adapter"
	"github.com/fusebridge/fusebridge/internal/dispatch"
)

// fakeFS is a minimal adapter.FileSystem that stores file contents
// per-handle in memory, recording the order writes land in so tests
// can assert on C5 serialization. Every method the tests don't
// exercise is a no-op returning nil.
type fakeFS struct {
	mu        sync.Mutex
	data      map[fuseops.HandleID][]byte
	writeSeq  []string
	parentsOf map[fuseops.InodeID]fuseops.InodeID
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		data:      make(map[fuseops.HandleID][]byte),
		parentsOf: make(map[fuseops.InodeID]fuseops.InodeID),
	}
}

func (f *fakeFS) put(h fuseops.HandleID, offset int64, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.data[h]
	need := int(offset) + len(b)
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], b)
	f.data[h] = buf
}

func (f *fakeFS) get(h fuseops.HandleID, offset int64, size int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.data[h]
	if int(offset) >= len(buf) {
		return nil
	}
	end := int(offset) + size
	if end > len(buf) {
		end = len(buf)
	}
	out := make([]byte, end-int(offset))
	copy(out, buf[offset:end])
	return out
}

func (f *fakeFS) recordWrite(tag string) {
	f.mu.Lock()
	f.writeSeq = append(f.writeSeq, tag)
	f.mu.Unlock()
}

func (f *fakeFS) Init(ctx context.Context, op *fuseops.InitOp) error              { return nil }
func (f *fakeFS) Destroy(ctx context.Context, op *fuseops.DestroyOp) error        { return nil }
func (f *fakeFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error { return nil }
func (f *fakeFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	return nil
}
func (f *fakeFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	return nil
}
func (f *fakeFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error { return nil }
func (f *fakeFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error { return nil }
func (f *fakeFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error             { return nil }
func (f *fakeFS) MkNod(ctx context.Context, op *fuseops.MkNodOp) error             { return nil }
func (f *fakeFS) Symlink(ctx context.Context, op *fuseops.SymlinkOp) error         { return nil }
func (f *fakeFS) Link(ctx context.Context, op *fuseops.LinkOp) error               { return nil }
func (f *fakeFS) Rename(ctx context.Context, op *fuseops.RenameOp) error           { return nil }
func (f *fakeFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error   { return nil }
func (f *fakeFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error             { return nil }
func (f *fakeFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error           { return nil }
func (f *fakeFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error         { return nil }

func (f *fakeFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	// Real children start at the offset the adapter reserves for them;
	// the test only cares that this never runs for the synthetic range.
	op.Data = nil
	return nil
}

func (f *fakeFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}
func (f *fakeFS) FsyncDir(ctx context.Context, op *fuseops.SyncFileOp) error { return nil }
func (f *fakeFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error { return nil }

func (f *fakeFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	op.Data = f.get(op.Handle, op.Offset, op.Size)
	return nil
}

func (f *fakeFS) ReadFileScatter(ctx context.Context, op *fuseops.ReadFileScatterOp) error {
	data := f.get(op.Handle, op.Offset, op.Size)
	op.Buffers = [][]byte{data}
	return nil
}

func (f *fakeFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	f.recordWrite("write")
	f.put(op.Handle, op.Offset, op.Data)
	return nil
}

func (f *fakeFS) WriteFileScatter(ctx context.Context, op *fuseops.WriteFileScatterOp) error {
	f.recordWrite("write_buf")
	offset := op.Offset
	for _, b := range op.Buffers {
		f.put(op.Handle, offset, b)
		offset += int64(len(b))
	}
	return nil
}

func (f *fakeFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error   { return nil }
func (f *fakeFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error { return nil }
func (f *fakeFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
func (f *fakeFS) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error { return nil }
func (f *fakeFS) Lseek(ctx context.Context, op *fuseops.LseekOp) error         { return nil }
func (f *fakeFS) CopyFileRange(ctx context.Context, op *fuseops.CopyFileRangeOp) error {
	return fuseops.NewErrno(fuseops.ErrnoIO, "CopyFileRange should never be called directly")
}
func (f *fakeFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error         { return nil }
func (f *fakeFS) Access(ctx context.Context, op *fuseops.AccessOp) error         { return nil }
func (f *fakeFS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error     { return nil }
func (f *fakeFS) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error     { return nil }
func (f *fakeFS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error   { return nil }
func (f *fakeFS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return nil
}
func (f *fakeFS) Ioctl(ctx context.Context, op *fuseops.IoctlOp) error   { return nil }
func (f *fakeFS) Bmap(ctx context.Context, op *fuseops.BmapOp) error     { return nil }
func (f *fakeFS) Poll(ctx context.Context, op *fuseops.PollOp) error     { return nil }
func (f *fakeFS) Flock(ctx context.Context, op *fuseops.FlockOp) error   { return nil }
func (f *fakeFS) SetLock(ctx context.Context, op *fuseops.SetLockOp) error { return nil }
func (f *fakeFS) GetLock(ctx context.Context, op *fuseops.GetLockOp) error { return nil }

// ParentInode implements adapter.DirParentLookup.
func (f *fakeFS) ParentInode(ctx context.Context, inode fuseops.InodeID) (fuseops.InodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.parentsOf[inode]; ok {
		return p, nil
	}
	return inode, nil
}

func newDispatcher(t *testing.T, fs adapter.FileSystem, cfg adapter.Config) (*dispatch.Dispatcher, *adapter.Wiring) {
	t.Helper()
	d := dispatch.New(16)
	d.Initialize()
	w := adapter.Register(d, fs, cfg)
	t.Cleanup(func() { d.Shutdown(time.Second) })
	return d, w
}

func enqueueAndWait(t *testing.T, d *dispatch.Dispatcher, name string, arg interface{}) dispatch.Result {
	t.Helper()
	resultCh, err := d.Enqueue(context.Background(), name, arg)
	require.NoError(t, err)
	select {
	case res := <-resultCh:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: timed out waiting for result", name)
		return dispatch.Result{}
	}
}

func TestReadDirSynthesizesDotAndDotDotBeforeRealEntries(t *testing.T) {
	fs := newFakeFS()
	fs.parentsOf[fuseops.InodeID(7)] = fuseops.InodeID(2)
	d, _ := newDispatcher(t, fs, adapter.Config{})

	op := &fuseops.ReadDirOp{Inode: fuseops.InodeID(7), Offset: 0, Size: 4096}
	res := enqueueAndWait(t, d, "readdir", op)
	require.NoError(t, res.Err)

	got := res.Reply.(*fuseops.ReadDirOp)
	require.NotEmpty(t, got.Data)

	dotOp := &fuseops.ReadDirOp{Inode: fuseops.InodeID(7), Offset: 1, Size: 4096}
	res = enqueueAndWait(t, d, "readdir", dotOp)
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Reply.(*fuseops.ReadDirOp).Data)
}

func TestReadDirPassesThroughOnceRealOffsetsStart(t *testing.T) {
	fs := newFakeFS()
	d, _ := newDispatcher(t, fs, adapter.Config{})

	op := &fuseops.ReadDirOp{Inode: fuseops.InodeID(1), Offset: 3, Size: 4096}
	res := enqueueAndWait(t, d, "readdir", op)
	require.NoError(t, res.Err)
	require.Nil(t, res.Reply.(*fuseops.ReadDirOp).Data)
}

func TestWriteGoesThroughQueueAndIsReadable(t *testing.T) {
	fs := newFakeFS()
	d, w := newDispatcher(t, fs, adapter.Config{MaxWriteQueueSize: 8})
	defer w.AbandonWrites()

	op := &fuseops.WriteFileOp{Inode: 1, Handle: 42, Offset: 0, Data: []byte("hello")}
	res := enqueueAndWait(t, d, "write", op)
	require.NoError(t, res.Err)

	require.Equal(t, []byte("hello"), fs.get(42, 0, 5))
}

func TestWriteScatterReleasesBorrowedBuffersAfterExecution(t *testing.T) {
	fs := newFakeFS()
	d, w := newDispatcher(t, fs, adapter.Config{MaxWriteQueueSize: 8})
	defer w.AbandonWrites()

	buffers := [][]byte{[]byte("ab"), []byte("cd")}
	op := &fuseops.WriteFileScatterOp{Inode: 1, Handle: 7, Offset: 0, Buffers: buffers}
	res := enqueueAndWait(t, d, "write_buf", op)
	require.NoError(t, res.Err)

	require.Equal(t, []byte("abcd"), fs.get(7, 0, 4))
}

func TestWritesToSameHandleCompleteInEnqueueOrder(t *testing.T) {
	fs := newFakeFS()
	d, w := newDispatcher(t, fs, adapter.Config{MaxWriteQueueSize: 8})
	defer w.AbandonWrites()

	const n = 5
	for i := 0; i < n; i++ {
		op := &fuseops.WriteFileOp{
			Inode:  1,
			Handle: 99,
			Offset: int64(i),
			Data:   []byte{byte('a' + i)},
		}
		res := enqueueAndWait(t, d, "write", op)
		require.NoError(t, res.Err)
	}

	fs.mu.Lock()
	seq := append([]string(nil), fs.writeSeq...)
	fs.mu.Unlock()
	require.Len(t, seq, n)
	require.Equal(t, []byte("abcde"), fs.get(99, 0, n))
}

func TestFlushWritesReturnsTrueWhenQueueIsEmpty(t *testing.T) {
	fs := newFakeFS()
	_, w := newDispatcher(t, fs, adapter.Config{})
	require.True(t, w.FlushWrites(time.Second))
}

func TestCopyFileRangeRoutesThroughReadAndWriteNotFileSystemMethod(t *testing.T) {
	fs := newFakeFS()
	d, w := newDispatcher(t, fs, adapter.Config{CopyChunkSizeBytes: 2})
	defer w.AbandonWrites()

	fs.put(1, 0, []byte("source-bytes"))

	var offsetIn, offsetOut int64
	op := &fuseops.CopyFileRangeOp{
		InodeIn:    10,
		HandleIn:   1,
		OffsetIn:   &offsetIn,
		InodeOut:   20,
		HandleOut:  2,
		OffsetOut:  &offsetOut,
		Length:     uint64(len("source-bytes")),
	}
	res := enqueueAndWait(t, d, "copy_file_range", op)
	require.NoError(t, res.Err)

	got := res.Reply.(*fuseops.CopyFileRangeOp)
	require.Equal(t, uint64(len("source-bytes")), got.BytesCopied)
	require.Equal(t, []byte("source-bytes"), fs.get(2, 0, len("source-bytes")))
}

func TestReadFileScatterBuffersSurviveTheSchedulerRoundTrip(t *testing.T) {
	fs := newFakeFS()
	fs.put(55, 0, []byte("payload"))
	d, _ := newDispatcher(t, fs, adapter.Config{})

	op := &fuseops.ReadFileScatterOp{Handle: 55, Offset: 0, Size: 7}
	res := enqueueAndWait(t, d, "read_buf", op)
	require.NoError(t, res.Err)

	got := res.Reply.(*fuseops.ReadFileScatterOp)
	require.Len(t, got.Buffers, 1)
	require.Equal(t, []byte("payload"), got.Buffers[0])
}
