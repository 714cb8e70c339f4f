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

package fuseutil

import (
	"context"

	"github.com/fusebridge/fusebridge/fuseops"
)

// NotImplementedFileSystem answers most operations with ENOSYS; Init,
// Destroy, ForgetInode, ReleaseDirHandle, FsyncDir, SyncFile, FlushFile,
// ReleaseFileHandle, StatFS and Access succeed as no-ops. Embed
// it in a concrete filesystem struct to inherit defaults for whatever
// methods that filesystem doesn't care about, so the struct keeps
// implementing adapter.FileSystem even as new methods are added here.
type NotImplementedFileSystem struct{}

func enosys(name string) error {
	return fuseops.NewErrno(fuseops.ErrnoNoSys, name)
}

func (NotImplementedFileSystem) Init(context.Context, *fuseops.InitOp) error { return nil }
func (NotImplementedFileSystem) Destroy(context.Context, *fuseops.DestroyOp) error { return nil }

func (NotImplementedFileSystem) LookUpInode(context.Context, *fuseops.LookUpInodeOp) error {
	return enosys("lookup")
}
func (NotImplementedFileSystem) GetInodeAttributes(context.Context, *fuseops.GetInodeAttributesOp) error {
	return enosys("getattr")
}
func (NotImplementedFileSystem) SetInodeAttributes(context.Context, *fuseops.SetInodeAttributesOp) error {
	return enosys("setattr")
}
func (NotImplementedFileSystem) ForgetInode(context.Context, *fuseops.ForgetInodeOp) error { return nil }
func (NotImplementedFileSystem) ReadSymlink(context.Context, *fuseops.ReadSymlinkOp) error {
	return enosys("readlink")
}

func (NotImplementedFileSystem) MkDir(context.Context, *fuseops.MkDirOp) error { return enosys("mkdir") }
func (NotImplementedFileSystem) MkNod(context.Context, *fuseops.MkNodOp) error { return enosys("mknod") }
func (NotImplementedFileSystem) Symlink(context.Context, *fuseops.SymlinkOp) error {
	return enosys("symlink")
}
func (NotImplementedFileSystem) Link(context.Context, *fuseops.LinkOp) error { return enosys("link") }
func (NotImplementedFileSystem) Rename(context.Context, *fuseops.RenameOp) error {
	return enosys("rename")
}
func (NotImplementedFileSystem) CreateFile(context.Context, *fuseops.CreateFileOp) error {
	return enosys("create")
}

func (NotImplementedFileSystem) RmDir(context.Context, *fuseops.RmDirOp) error { return enosys("rmdir") }
func (NotImplementedFileSystem) Unlink(context.Context, *fuseops.UnlinkOp) error {
	return enosys("unlink")
}

func (NotImplementedFileSystem) OpenDir(context.Context, *fuseops.OpenDirOp) error {
	return enosys("opendir")
}
func (NotImplementedFileSystem) ReadDir(context.Context, *fuseops.ReadDirOp) error {
	return enosys("readdir")
}
func (NotImplementedFileSystem) ReleaseDirHandle(context.Context, *fuseops.ReleaseDirHandleOp) error {
	return nil
}
func (NotImplementedFileSystem) FsyncDir(context.Context, *fuseops.SyncFileOp) error { return nil }

func (NotImplementedFileSystem) OpenFile(context.Context, *fuseops.OpenFileOp) error {
	return enosys("open")
}
func (NotImplementedFileSystem) ReadFile(context.Context, *fuseops.ReadFileOp) error {
	return enosys("read")
}
func (NotImplementedFileSystem) ReadFileScatter(context.Context, *fuseops.ReadFileScatterOp) error {
	return enosys("read_buf")
}
func (NotImplementedFileSystem) WriteFile(context.Context, *fuseops.WriteFileOp) error {
	return enosys("write")
}
func (NotImplementedFileSystem) WriteFileScatter(context.Context, *fuseops.WriteFileScatterOp) error {
	return enosys("write_buf")
}
func (NotImplementedFileSystem) SyncFile(context.Context, *fuseops.SyncFileOp) error { return nil }
func (NotImplementedFileSystem) FlushFile(context.Context, *fuseops.FlushFileOp) error { return nil }
func (NotImplementedFileSystem) ReleaseFileHandle(context.Context, *fuseops.ReleaseFileHandleOp) error {
	return nil
}
func (NotImplementedFileSystem) Fallocate(context.Context, *fuseops.FallocateOp) error {
	return enosys("fallocate")
}
func (NotImplementedFileSystem) Lseek(context.Context, *fuseops.LseekOp) error {
	return enosys("lseek")
}
func (NotImplementedFileSystem) CopyFileRange(context.Context, *fuseops.CopyFileRangeOp) error {
	return enosys("copy_file_range")
}

func (NotImplementedFileSystem) StatFS(context.Context, *fuseops.StatFSOp) error { return nil }
func (NotImplementedFileSystem) Access(context.Context, *fuseops.AccessOp) error { return nil }

func (NotImplementedFileSystem) GetXattr(context.Context, *fuseops.GetXattrOp) error {
	return enosys("getxattr")
}
func (NotImplementedFileSystem) SetXattr(context.Context, *fuseops.SetXattrOp) error {
	return enosys("setxattr")
}
func (NotImplementedFileSystem) ListXattr(context.Context, *fuseops.ListXattrOp) error {
	return enosys("listxattr")
}
func (NotImplementedFileSystem) RemoveXattr(context.Context, *fuseops.RemoveXattrOp) error {
	return enosys("removexattr")
}

func (NotImplementedFileSystem) Ioctl(context.Context, *fuseops.IoctlOp) error {
	return enosys("ioctl")
}
func (NotImplementedFileSystem) Bmap(context.Context, *fuseops.BmapOp) error { return enosys("bmap") }
func (NotImplementedFileSystem) Poll(context.Context, *fuseops.PollOp) error { return enosys("poll") }
func (NotImplementedFileSystem) Flock(context.Context, *fuseops.FlockOp) error {
	return enosys("flock")
}
func (NotImplementedFileSystem) SetLock(context.Context, *fuseops.SetLockOp) error {
	return enosys("setlk")
}
func (NotImplementedFileSystem) GetLock(context.Context, *fuseops.GetLockOp) error {
	return enosys("getlk")
}
