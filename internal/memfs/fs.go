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
	"context"
	"os"
	"sort"
	"time"

	"github.com/fusebridge/fusebridge/fuseops"
)

// cacheForever is how long memfs tells the kernel it may cache
// attributes and entries for: since nothing here mutates outside of a
// handler call, there's nothing to invalidate against.
const cacheForever = 365 * 24 * time.Hour

func (fs *memFS) ttl() fuseops.Timestamp {
	return fuseops.Add(fuseops.NowFromClock(fs.clock), cacheForever)
}

func (fs *memFS) Init(ctx context.Context, op *fuseops.InitOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	root := fs.getInodeForModifyingOrDie(fuseops.RootInodeID)
	defer root.mu.Unlock()

	root.attrs.Uid = op.Header.Uid
	root.attrs.Gid = op.Header.Gid

	op.Readdirplus = false
	return nil
}

func (fs *memFS) Destroy(ctx context.Context, op *fuseops.DestroyOp) error { return nil }

func (fs *memFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	parent := fs.getInodeForReadingOrDie(op.Parent)
	defer parent.mu.RUnlock()

	childID, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoEnt, op.Name)
	}

	child := fs.getInodeForReadingOrDie(childID)
	defer child.mu.RUnlock()

	op.Entry = toEntry(childID, child, fs.ttl())
	return nil
}

func (fs *memFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	attrs := in.attrs
	attrs.Ino = op.Inode
	op.Attributes = attrs
	op.AttributesExpiration = fs.ttl()
	return nil
}

func (fs *memFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	in.SetAttributes(op.Size, op.Mode, op.Atime, op.Mtime, op.Uid, op.Gid)

	attrs := in.attrs
	attrs.Ino = op.Inode
	op.Attributes = attrs
	op.AttributesExpiration = fs.ttl()
	return nil
}

func (fs *memFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.inodes[op.Inode]
	if in == nil {
		return nil
	}

	in.mu.Lock()
	unlinked := in.linkCount == 0
	in.mu.Unlock()

	if unlinked {
		fs.deallocateInode(op.Inode)
	}
	return nil
}

func (fs *memFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	op.Target = in.target
	return nil
}

func (fs *memFS) createChild(parentID fuseops.InodeID, name string, mode os.FileMode, header fuseops.OpHeader) (fuseops.InodeID, *inode, error) {
	parent := fs.getInodeForModifyingOrDie(parentID)
	defer parent.mu.Unlock()

	if _, ok := parent.LookUpChild(name); ok {
		return 0, nil, fuseops.NewErrno(fuseops.ErrnoExist, name)
	}

	childID, child := fs.allocateInode(mode)
	child.attrs.Uid = header.Uid
	child.attrs.Gid = header.Gid
	child.SetParent(parentID)

	var ft fuseops.Filetype
	switch {
	case mode&os.ModeDir != 0:
		ft = fuseops.DirectoryFiletype
	case mode&os.ModeSymlink != 0:
		ft = fuseops.SymlinkFiletype
	default:
		ft = fuseops.RegularFiletype
	}
	parent.AddChild(childID, name, ft)

	return childID, child, nil
}

func (fs *memFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, child, err := fs.createChild(op.Parent, op.Name, op.Mode|os.ModeDir, op.Header)
	if err != nil {
		return err
	}
	defer child.mu.Unlock()

	op.Entry = toEntry(childID, child, fs.ttl())
	return nil
}

func (fs *memFS) MkNod(ctx context.Context, op *fuseops.MkNodOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, child, err := fs.createChild(op.Parent, op.Name, op.Mode, op.Header)
	if err != nil {
		return err
	}
	defer child.mu.Unlock()

	child.attrs.Rdev = op.Rdev
	op.Entry = toEntry(childID, child, fs.ttl())
	return nil
}

func (fs *memFS) Symlink(ctx context.Context, op *fuseops.SymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, child, err := fs.createChild(op.Parent, op.Name, 0444|os.ModeSymlink, op.Header)
	if err != nil {
		return err
	}
	defer child.mu.Unlock()

	child.target = op.Target
	op.Entry = toEntry(childID, child, fs.ttl())
	return nil
}

func (fs *memFS) Link(ctx context.Context, op *fuseops.LinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeForModifyingOrDie(op.Parent)
	defer parent.mu.Unlock()

	if _, ok := parent.LookUpChild(op.Name); ok {
		return fuseops.NewErrno(fuseops.ErrnoExist, op.Name)
	}

	target := fs.getInodeForModifyingOrDie(op.Target)
	defer target.mu.Unlock()

	target.linkCount++
	parent.AddChild(op.Target, op.Name, target.filetype())

	op.Entry = toEntry(op.Target, target, fs.ttl())
	return nil
}

func (fs *memFS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent := fs.getInodeForModifyingOrDie(op.OldParent)
	defer oldParent.mu.Unlock()

	childID, ok := oldParent.LookUpChild(op.OldName)
	if !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoEnt, op.OldName)
	}

	if op.NewParent == op.OldParent {
		if existingID, ok := oldParent.LookUpChild(op.NewName); ok && existingID != childID {
			oldParent.RemoveChild(op.NewName)
		}
		oldParent.RemoveChild(op.OldName)
		child := fs.getInodeForModifyingOrDie(childID)
		ft := child.filetype()
		child.mu.Unlock()
		oldParent.AddChild(childID, op.NewName, ft)
		return nil
	}

	newParent := fs.getInodeForModifyingOrDie(op.NewParent)
	defer newParent.mu.Unlock()

	if existingID, ok := newParent.LookUpChild(op.NewName); ok && existingID != childID {
		newParent.RemoveChild(op.NewName)
	}

	oldParent.RemoveChild(op.OldName)
	child := fs.getInodeForModifyingOrDie(childID)
	ft := child.filetype()
	child.SetParent(op.NewParent)
	child.mu.Unlock()
	newParent.AddChild(childID, op.NewName, ft)

	return nil
}

func (fs *memFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, child, err := fs.createChild(op.Parent, op.Name, op.Mode, op.Header)
	if err != nil {
		return err
	}
	defer child.mu.Unlock()

	op.Entry = toEntry(childID, child, fs.ttl())
	op.Handle = fs.allocateHandle()
	fs.fileHandles[op.Handle] = childID
	return nil
}

func (fs *memFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeForModifyingOrDie(op.Parent)
	defer parent.mu.Unlock()

	childID, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoEnt, op.Name)
	}

	child := fs.getInodeForModifyingOrDie(childID)
	defer child.mu.Unlock()

	if child.Len() != 0 {
		return fuseops.NewErrno(fuseops.ErrnoNotEmpty, op.Name)
	}

	parent.RemoveChild(op.Name)
	child.linkCount--
	return nil
}

func (fs *memFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeForModifyingOrDie(op.Parent)
	defer parent.mu.Unlock()

	childID, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoEnt, op.Name)
	}

	child := fs.getInodeForModifyingOrDie(childID)
	defer child.mu.Unlock()

	parent.RemoveChild(op.Name)
	child.linkCount--
	return nil
}

func (fs *memFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	if !in.isDir() {
		return fuseops.NewErrno(fuseops.ErrnoNotDir, "")
	}

	op.Handle = fs.allocateHandle()
	fs.dirHandles[op.Handle] = op.Inode
	return nil
}

func (fs *memFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	op.Data = in.ReadDir(op.Offset, op.Size)
	return nil
}

// ParentInode implements adapter.DirParentLookup, letting the C4
// readdir adapter synthesize ".." without memfs needing to know
// anything about wire-level directory listings itself.
func (fs *memFS) ParentInode(ctx context.Context, inode fuseops.InodeID) (fuseops.InodeID, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(inode)
	defer in.mu.RUnlock()

	return in.Parent(), nil
}

func (fs *memFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirHandles, op.Handle)
	return nil
}

func (fs *memFS) FsyncDir(ctx context.Context, op *fuseops.SyncFileOp) error { return nil }

func (fs *memFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	in.mu.RUnlock()

	op.Handle = fs.allocateHandle()
	fs.fileHandles[op.Handle] = op.Inode
	return nil
}

func (fs *memFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	buf := make([]byte, op.Size)
	n, _ := in.ReadAt(buf, op.Offset)
	op.Data = buf[:n]
	return nil
}

func (fs *memFS) ReadFileScatter(ctx context.Context, op *fuseops.ReadFileScatterOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	buf := make([]byte, op.Size)
	n, _ := in.ReadAt(buf, op.Offset)
	op.Buffers = [][]byte{buf[:n]}
	return nil
}

func (fs *memFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	_, err := in.WriteAt(op.Data, op.Offset)
	return err
}

func (fs *memFS) WriteFileScatter(ctx context.Context, op *fuseops.WriteFileScatterOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	off := op.Offset
	for _, buf := range op.Buffers {
		n, err := in.WriteAt(buf, off)
		off += int64(n)
		if err != nil {
			return err
		}
	}
	return nil
}

func (fs *memFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error  { return nil }
func (fs *memFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error { return nil }

func (fs *memFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.fileHandles, op.Handle)
	return nil
}

func (fs *memFS) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	need := uint64(op.Offset + op.Length)
	if need > in.attrs.Size {
		in.Truncate(need)
	}
	return nil
}

func (fs *memFS) Lseek(ctx context.Context, op *fuseops.LseekOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	// memfs has no sparse regions, so SEEK_DATA is the requested offset
	// and SEEK_HOLE is always end-of-file.
	const seekData, seekHole = 3, 4
	switch op.Whence {
	case seekData:
		op.ResultOffset = op.Offset
	case seekHole:
		op.ResultOffset = int64(in.attrs.Size)
	default:
		return fuseops.NewErrno(fuseops.ErrnoInval, "")
	}
	return nil
}

func (fs *memFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	op.Stat = fuseops.Statvfs{
		BlockSize:    4096,
		FragmentSize: 4096,
		NameMax:      255,
	}
	return nil
}

func (fs *memFS) Access(ctx context.Context, op *fuseops.AccessOp) error { return nil }

func (fs *memFS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	v, ok := in.xattrs[op.Name]
	if !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoData, op.Name)
	}

	op.BytesNeeded = len(v)
	if op.Size == 0 {
		return nil
	}
	if len(v) > op.Size {
		return fuseops.NewErrno(fuseops.ErrnoRange, op.Name)
	}
	op.Data = v
	return nil
}

func (fs *memFS) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	_, exists := in.xattrs[op.Name]
	switch op.Flags {
	case fuseops.XattrCreateOnly:
		if exists {
			return fuseops.NewErrno(fuseops.ErrnoExist, op.Name)
		}
	case fuseops.XattrReplaceOnly:
		if !exists {
			return fuseops.NewErrno(fuseops.ErrnoNoData, op.Name)
		}
	}

	data := make([]byte, len(op.Data))
	copy(data, op.Data)
	in.xattrs[op.Name] = data
	return nil
}

func (fs *memFS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForReadingOrDie(op.Inode)
	defer in.mu.RUnlock()

	names := make([]string, 0, len(in.xattrs))
	for name := range in.xattrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var data []byte
	for _, name := range names {
		data = append(data, name...)
		data = append(data, 0)
	}

	op.BytesNeeded = len(data)
	if op.Size == 0 {
		return nil
	}
	if len(data) > op.Size {
		return fuseops.NewErrno(fuseops.ErrnoRange, "")
	}
	op.Data = data
	return nil
}

func (fs *memFS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeForModifyingOrDie(op.Inode)
	defer in.mu.Unlock()

	if _, ok := in.xattrs[op.Name]; !ok {
		return fuseops.NewErrno(fuseops.ErrnoNoData, op.Name)
	}
	delete(in.xattrs, op.Name)
	return nil
}
