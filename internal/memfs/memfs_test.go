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

package memfs_test

import (
	"context"
	"os"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/memfs"
)

func newFS(t *testing.T) (fs interface {
	LookUpInode(context.Context, *fuseops.LookUpInodeOp) error
	MkDir(context.Context, *fuseops.MkDirOp) error
	CreateFile(context.Context, *fuseops.CreateFileOp) error
	WriteFile(context.Context, *fuseops.WriteFileOp) error
	ReadFile(context.Context, *fuseops.ReadFileOp) error
	OpenDir(context.Context, *fuseops.OpenDirOp) error
	ReadDir(context.Context, *fuseops.ReadDirOp) error
	RmDir(context.Context, *fuseops.RmDirOp) error
	Unlink(context.Context, *fuseops.UnlinkOp) error
	GetInodeAttributes(context.Context, *fuseops.GetInodeAttributesOp) error
	SetInodeAttributes(context.Context, *fuseops.SetInodeAttributesOp) error
	SetXattr(context.Context, *fuseops.SetXattrOp) error
	GetXattr(context.Context, *fuseops.GetXattrOp) error
}) {
	t.Helper()
	return memfs.NewMemFS(timeutil.RealClock())
}

func TestMkDirThenLookup(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))
	require.NotZero(t, mk.Entry.Child)

	lu := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(ctx, lu))
	require.Equal(t, mk.Entry.Child, lu.Entry.Child)
	require.True(t, lu.Entry.Attributes.Mode&os.ModeDir != 0)
}

func TestLookupMissingChildIsENOENT(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	lu := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := fs.LookUpInode(ctx, lu)
	require.Error(t, err)
	fe, ok := fuseops.AsErrno(err)
	require.True(t, ok)
	require.Equal(t, fuseops.ErrnoNoEnt, fe.Errno)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Handle: create.Handle, Offset: 0, Data: []byte("hello")}
	require.NoError(t, fs.WriteFile(ctx, write))

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Handle: create.Handle, Offset: 0, Size: 5}
	require.NoError(t, fs.ReadFile(ctx, read))
	require.Equal(t, []byte("hello"), read.Data)

	attrs := &fuseops.GetInodeAttributesOp{Inode: create.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(ctx, attrs))
	require.EqualValues(t, 5, attrs.Attributes.Size)
}

func TestSetInodeAttributesTruncates(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Handle: create.Handle, Data: []byte("hello world")}
	require.NoError(t, fs.WriteFile(ctx, write))

	size := uint64(5)
	setattr := &fuseops.SetInodeAttributesOp{Inode: create.Entry.Child, Size: &size}
	require.NoError(t, fs.SetInodeAttributes(ctx, setattr))
	require.EqualValues(t, 5, setattr.Attributes.Size)

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Handle: create.Handle, Size: 64}
	require.NoError(t, fs.ReadFile(ctx, read))
	require.Equal(t, []byte("hello"), read.Data)
}

func TestRmDirRequiresEmpty(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: 0755}
	require.NoError(t, fs.MkDir(ctx, mk))

	create := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "f", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	rm := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}
	err := fs.RmDir(ctx, rm)
	require.Error(t, err)
	fe, ok := fuseops.AsErrno(err)
	require.True(t, ok)
	require.Equal(t, fuseops.ErrnoNotEmpty, fe.Errno)

	unlink := &fuseops.UnlinkOp{Parent: mk.Entry.Child, Name: "f"}
	require.NoError(t, fs.Unlink(ctx, unlink))
	require.NoError(t, fs.RmDir(ctx, rm))
}

func TestReadDirPaginatesAcrossOffsets(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: name, Mode: 0755}
		require.NoError(t, fs.MkDir(ctx, mk))
	}

	opendir := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(ctx, opendir))

	var total int
	var offset fuseops.DirOffset
	for i := 0; i < len(names)+1; i++ {
		rd := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: opendir.Handle, Offset: offset, Size: 64}
		require.NoError(t, fs.ReadDir(ctx, rd))
		if len(rd.Data) == 0 {
			break
		}
		total += len(rd.Data)
		offset++
	}
	require.Greater(t, total, 0)
}

func TestXattrTwoPhaseProtocol(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f", Mode: 0644}
	require.NoError(t, fs.CreateFile(ctx, create))

	set := &fuseops.SetXattrOp{Inode: create.Entry.Child, Name: "user.foo", Data: []byte("bar")}
	require.NoError(t, fs.SetXattr(ctx, set))

	query := &fuseops.GetXattrOp{Inode: create.Entry.Child, Name: "user.foo", Size: 0}
	require.NoError(t, fs.GetXattr(ctx, query))
	require.Equal(t, 3, query.BytesNeeded)
	require.Nil(t, query.Data)

	fetch := &fuseops.GetXattrOp{Inode: create.Entry.Child, Name: "user.foo", Size: query.BytesNeeded}
	require.NoError(t, fs.GetXattr(ctx, fetch))
	require.Equal(t, []byte("bar"), fetch.Data)

	tooSmall := &fuseops.GetXattrOp{Inode: create.Entry.Child, Name: "user.foo", Size: 1}
	err := fs.GetXattr(ctx, tooSmall)
	require.Error(t, err)
	fe, ok := fuseops.AsErrno(err)
	require.True(t, ok)
	require.Equal(t, fuseops.ErrnoRange, fe.Errno)
}
