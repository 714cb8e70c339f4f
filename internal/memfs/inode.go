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

// Package memfs is an in-memory reference implementation of
// adapter.FileSystem, used to exercise the bridge end to end without a
// real backing store.
package memfs

import (
	"fmt"
	"io"
	"os"

	"github.com/jacobsa/syncutil"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/fuseutil"
)

// inode is the common representation for every file, directory and
// symlink memfs knows about.
type inode struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock fuseops.Clock

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: attrs.Mode &^ (os.ModePerm|os.ModeDir|os.ModeSymlink) == 0
	// INVARIANT: !(isDir() && isSymlink())
	// INVARIANT: attrs.Size == len(contents)
	attrs fuseops.Stat // GUARDED_BY(mu)

	linkCount uint32 // GUARDED_BY(mu)

	// parent is the inode ID of the directory this inode was last filed
	// under. The root is its own parent. Used only to answer the C4
	// readdir adapter's ".." synthesis; memfs itself never reads it.
	parent fuseops.InodeID // GUARDED_BY(mu)

	// For directories, one entry per child slot. Unused slots have
	// Type == fuseops.NoFiletype. The slice never shrinks and entries
	// never move, since their index determines the Offset a readdir
	// cursor points at; a removed child just frees its slot for reuse.
	// Offsets start at 3: 1 and 2 are reserved for the "." and ".."
	// entries the adapter prepends.
	//
	// INVARIANT: If !isDir(), len(entries) == 0
	// INVARIANT: For each i, entries[i].Offset == fuseops.DirOffset(i+3)
	// INVARIANT: no duplicate names among used entries
	entries []fuseutil.Dirent // GUARDED_BY(mu)

	// For files, the current contents.
	//
	// INVARIANT: If !isFile(), len(contents) == 0
	contents []byte // GUARDED_BY(mu)

	// For symlinks, the target.
	//
	// INVARIANT: If !isSymlink(), len(target) == 0
	target string // GUARDED_BY(mu)

	// Extended attributes, keyed by name.
	xattrs map[string][]byte // GUARDED_BY(mu)
}

func newInode(clock fuseops.Clock, mode os.FileMode) *inode {
	now := fuseops.NowFromClock(clock)
	in := &inode{
		clock: clock,
		attrs: fuseops.Stat{
			Mode:  mode,
			Atime: now,
			Mtime: now,
			Ctime: now,
			Nlink: 1,
		},
		linkCount: 1,
		xattrs:    make(map[string][]byte),
	}
	in.mu = syncutil.NewInvariantMutex(in.checkInvariants)
	return in
}

func (in *inode) checkInvariants() {
	if in.attrs.Mode&^(os.ModePerm|os.ModeDir|os.ModeSymlink) != 0 {
		panic(fmt.Sprintf("unexpected mode: %v", in.attrs.Mode))
	}
	if in.isDir() && in.isSymlink() {
		panic(fmt.Sprintf("unexpected mode: %v", in.attrs.Mode))
	}
	if in.attrs.Size != uint64(len(in.contents)) {
		panic(fmt.Sprintf("size mismatch: %d vs %d", in.attrs.Size, len(in.contents)))
	}
	if !in.isDir() && len(in.entries) != 0 {
		panic(fmt.Sprintf("unexpected entries length: %d", len(in.entries)))
	}
	for i, e := range in.entries {
		if e.Offset != fuseops.DirOffset(i+3) {
			panic(fmt.Sprintf("unexpected offset at index %d: %d", i, e.Offset))
		}
	}
	names := make(map[string]struct{})
	for _, e := range in.entries {
		if e.Type == fuseops.NoFiletype {
			continue
		}
		if _, ok := names[e.Name]; ok {
			panic(fmt.Sprintf("duplicate name: %s", e.Name))
		}
		names[e.Name] = struct{}{}
	}
	if !in.isFile() && len(in.contents) != 0 {
		panic(fmt.Sprintf("unexpected contents length: %d", len(in.contents)))
	}
	if !in.isSymlink() && len(in.target) != 0 {
		panic(fmt.Sprintf("unexpected target length: %d", len(in.target)))
	}
}

// LOCKS_REQUIRED(in.mu)
func (in *inode) isDir() bool     { return in.attrs.Mode&os.ModeDir != 0 }
func (in *inode) isSymlink() bool { return in.attrs.Mode&os.ModeSymlink != 0 }
func (in *inode) isFile() bool    { return !(in.isDir() || in.isSymlink()) }

func (in *inode) filetype() fuseops.Filetype {
	switch {
	case in.isDir():
		return fuseops.DirectoryFiletype
	case in.isSymlink():
		return fuseops.SymlinkFiletype
	default:
		return fuseops.RegularFiletype
	}
}

// Len returns the number of live children.
//
// SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) Len() (n int) {
	for _, e := range in.entries {
		if e.Type != fuseops.NoFiletype {
			n++
		}
	}
	return
}

// LookUpChild finds a child by name.
//
// SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) LookUpChild(name string) (id fuseops.InodeID, ok bool) {
	i, ok := in.findChild(name)
	if ok {
		id = in.entries[i].Inode
	}
	return
}

// SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) findChild(name string) (i int, ok bool) {
	for j, e := range in.entries {
		if e.Type != fuseops.NoFiletype && e.Name == name {
			return j, true
		}
	}
	return 0, false
}

// AddChild records a new child. EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) AddChild(id fuseops.InodeID, name string, ft fuseops.Filetype) {
	in.attrs.Mtime = fuseops.NowFromClock(in.clock)

	var index int
	defer func() {
		in.entries[index].Offset = fuseops.DirOffset(index + 3)
	}()

	e := fuseutil.Dirent{Inode: id, Name: name, Type: ft}

	for index = range in.entries {
		if in.entries[index].Type == fuseops.NoFiletype {
			in.entries[index] = e
			return
		}
	}

	index = len(in.entries)
	in.entries = append(in.entries, e)
}

// RemoveChild removes a child entry by name. EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) RemoveChild(name string) {
	in.attrs.Mtime = fuseops.NowFromClock(in.clock)

	i, ok := in.findChild(name)
	if !ok {
		panic(fmt.Sprintf("unknown child: %s", name))
	}

	in.entries[i] = fuseutil.Dirent{Type: fuseops.NoFiletype, Offset: fuseops.DirOffset(i + 3)}
}

// Parent reports the inode ID this inode currently sits under.
// SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) Parent() fuseops.InodeID { return in.parent }

// SetParent records which directory now holds this inode, updated on
// creation and on every rename that moves it. EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) SetParent(id fuseops.InodeID) { in.parent = id }

// ReadDir packs live children at or after offset into a page no larger
// than size, delegating the wire encoding to fuseutil.PaginateDirents.
// It never emits "." or ".."; the C4 readdir adapter prepends those
// itself for offsets below 3.
//
// SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) ReadDir(offset fuseops.DirOffset, size int) []byte {
	live := make([]fuseutil.Dirent, 0, len(in.entries))
	for _, e := range in.entries {
		if e.Type != fuseops.NoFiletype {
			live = append(live, e)
		}
	}
	page := fuseutil.PaginateDirents(live, offset, size)
	return page.Data
}

// ReadAt reads from the file's contents. SHARED_LOCKS_REQUIRED(in.mu)
func (in *inode) ReadAt(p []byte, off int64) (n int, err error) {
	if off > int64(len(in.contents)) {
		return 0, io.EOF
	}
	n = copy(p, in.contents[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// WriteAt writes to the file's contents, extending it as needed.
// EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) WriteAt(p []byte, off int64) (n int, err error) {
	in.attrs.Mtime = fuseops.NowFromClock(in.clock)

	newLen := int(off) + len(p)
	if len(in.contents) < newLen {
		in.contents = append(in.contents, make([]byte, newLen-len(in.contents))...)
		in.attrs.Size = uint64(newLen)
	}

	n = copy(in.contents[off:], p)
	if n != len(p) {
		panic(fmt.Sprintf("unexpected short copy: %d", n))
	}
	return
}

// Truncate resizes the file's contents. EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) Truncate(size uint64) {
	n := int(size)
	if n <= len(in.contents) {
		in.contents = in.contents[:n]
	} else {
		in.contents = append(in.contents, make([]byte, n-len(in.contents))...)
	}
	in.attrs.Size = size
}

// SetAttributes applies whichever pointers are non-nil.
// EXCLUSIVE_LOCKS_REQUIRED(in.mu)
func (in *inode) SetAttributes(size *uint64, mode *os.FileMode, atime, mtime *fuseops.Timestamp, uid *fuseops.UserID, gid *fuseops.GroupID) {
	in.attrs.Ctime = fuseops.NowFromClock(in.clock)

	if size != nil {
		in.Truncate(*size)
	}
	if mode != nil {
		in.attrs.Mode = *mode
	}
	if atime != nil {
		in.attrs.Atime = *atime
	}
	if mtime != nil {
		in.attrs.Mtime = *mtime
	} else if size != nil {
		in.attrs.Mtime = fuseops.NowFromClock(in.clock)
	}
	if uid != nil {
		in.attrs.Uid = *uid
	}
	if gid != nil {
		in.attrs.Gid = *gid
	}
}
