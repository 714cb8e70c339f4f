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

package memfs

import (
	"fmt"
	"os"

	"github.com/jacobsa/syncutil"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/fuseutil"
	"github.com/fusebridge/fusebridge/internal/adapter"
)

// memFS is an in-memory implementation of adapter.FileSystem. It keeps
// no on-disk state at all; every inode, directory entry and file's
// contents lives only in the process's heap.
type memFS struct {
	fuseutil.NotImplementedFileSystem

	clock fuseops.Clock

	// When acquiring this lock, the caller must hold no inode locks.
	mu syncutil.InvariantMutex

	// The collection of live inodes, indexed by ID. A nil entry at an
	// index >= fuseops.RootInodeID means the ID is free for reuse.
	//
	// INVARIANT: len(inodes) > fuseops.RootInodeID
	// INVARIANT: for i < fuseops.RootInodeID, inodes[i] == nil
	// INVARIANT: inodes[fuseops.RootInodeID] != nil && its .isDir()
	inodes []*inode // GUARDED_BY(mu)

	// INVARIANT: exactly the indices i > fuseops.RootInodeID with inodes[i] == nil
	freeInodes []fuseops.InodeID // GUARDED_BY(mu)

	nextHandle  fuseops.HandleID           // GUARDED_BY(mu)
	fileHandles map[fuseops.HandleID]fuseops.InodeID // GUARDED_BY(mu)
	dirHandles  map[fuseops.HandleID]fuseops.InodeID // GUARDED_BY(mu)
}

// NewMemFS creates a file system that stores data and metadata only in
// memory, for use as the bridge's reference / demo handler.
func NewMemFS(clock fuseops.Clock) adapter.FileSystem {
	fs := &memFS{
		clock:       clock,
		inodes:      make([]*inode, fuseops.RootInodeID+1),
		fileHandles: make(map[fuseops.HandleID]fuseops.InodeID),
		dirHandles:  make(map[fuseops.HandleID]fuseops.InodeID),
	}

	fs.inodes[fuseops.RootInodeID] = newInode(clock, 0755|os.ModeDir)
	fs.inodes[fuseops.RootInodeID].parent = fuseops.RootInodeID
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fs
}

func (fs *memFS) checkInvariants() {
	for i := 0; i < int(fuseops.RootInodeID); i++ {
		if fs.inodes[i] != nil {
			panic(fmt.Sprintf("non-nil inode for reserved ID %d", i))
		}
	}
	if !fs.inodes[fuseops.RootInodeID].isDir() {
		panic("root inode is not a directory")
	}

	free := make(map[fuseops.InodeID]struct{})
	for i := int(fuseops.RootInodeID) + 1; i < len(fs.inodes); i++ {
		if fs.inodes[i] == nil {
			free[fuseops.InodeID(i)] = struct{}{}
		}
	}
	if len(free) != len(fs.freeInodes) {
		panic(fmt.Sprintf("free inode count mismatch: %d vs %d", len(fs.freeInodes), len(free)))
	}
	for _, id := range fs.freeInodes {
		if _, ok := free[id]; !ok {
			panic(fmt.Sprintf("unexpected free inode ID: %v", id))
		}
	}
}

// getInode finds an inode by ID, locked for writing.
// SHARED_LOCKS_REQUIRED(fs.mu) EXCLUSIVE_LOCK_FUNCTION(returned.mu)
func (fs *memFS) getInodeForModifyingOrDie(id fuseops.InodeID) *inode {
	in := fs.inodes[id]
	if in == nil {
		panic(fmt.Sprintf("unknown inode: %v", id))
	}
	in.mu.Lock()
	return in
}

// SHARED_LOCKS_REQUIRED(fs.mu) SHARED_LOCK_FUNCTION(returned.mu)
func (fs *memFS) getInodeForReadingOrDie(id fuseops.InodeID) *inode {
	in := fs.inodes[id]
	if in == nil {
		panic(fmt.Sprintf("unknown inode: %v", id))
	}
	in.mu.RLock()
	return in
}

// allocateInode mints a new inode, reusing a freed ID where possible.
// EXCLUSIVE_LOCKS_REQUIRED(fs.mu) EXCLUSIVE_LOCK_FUNCTION(in.mu)
func (fs *memFS) allocateInode(mode os.FileMode) (id fuseops.InodeID, in *inode) {
	in = newInode(fs.clock, mode)
	in.mu.Lock()

	if n := len(fs.freeInodes); n != 0 {
		id = fs.freeInodes[n-1]
		fs.freeInodes = fs.freeInodes[:n-1]
		fs.inodes[id] = in
	} else {
		id = fuseops.InodeID(len(fs.inodes))
		fs.inodes = append(fs.inodes, in)
	}
	return
}

// EXCLUSIVE_LOCKS_REQUIRED(fs.mu)
func (fs *memFS) deallocateInode(id fuseops.InodeID) {
	fs.freeInodes = append(fs.freeInodes, id)
	fs.inodes[id] = nil
}

// EXCLUSIVE_LOCKS_REQUIRED(fs.mu)
func (fs *memFS) allocateHandle() fuseops.HandleID {
	fs.nextHandle++
	return fs.nextHandle
}

func toEntry(id fuseops.InodeID, in *inode, ttl fuseops.Timestamp) fuseops.ChildInodeEntry {
	attrs := in.attrs
	attrs.Ino = id
	return fuseops.ChildInodeEntry{
		Child:                 id,
		Attributes:            attrs,
		AttributesExpiration:  ttl,
		EntryExpiration:       ttl,
	}
}
