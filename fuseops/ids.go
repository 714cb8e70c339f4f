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

// Package fuseops holds the branded identifier types, timestamp math, errno
// taxonomy and per-operation request/response structs that cross the
// native/managed boundary. Every field here is a fixed-width integer; none
// of them are ever routed through a float, so no 64-bit identifier can be
// silently truncated into a 53-bit float mantissa.
package fuseops

import "fmt"

// InodeID is an opaque 64-bit inode number assigned by the file system. The
// bridge never interprets it beyond using it as a map key and echoing it
// back to the kernel. The root of a mounted file system always has ID
// RootInodeID.
type InodeID uint64

const RootInodeID InodeID = 1

func (i InodeID) String() string {
	return fmt.Sprintf("%#x", uint64(i))
}

// HandleID is a 64-bit file or directory handle, chosen by the handler that
// services OpenFileOp/OpenDirOp/CreateFileOp and owned by the bridge until
// the matching ReleaseFileHandleOp/ReleaseDirHandleOp arrives.
type HandleID uint64

func (h HandleID) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// DirOffset is an opaque cursor into a directory stream. Only the value 0
// carries defined meaning to the bridge (the start of the stream); every
// other value is whatever the file system returned as a entry's NextOffset
// on a previous ReadDirOp.
type DirOffset uint64

// Generation is a per-inode monotonically increasing counter. It lets the
// kernel tell apart two different incarnations of the same reused inode
// number; the bridge hands it back verbatim in every ChildInodeEntry.
type Generation uint64

// UserID and GroupID mirror uid_t/gid_t. They are carried at 32 bits, the
// POSIX width, not widened or narrowed anywhere in the pipeline.
type UserID uint32
type GroupID uint32

// DeviceNumber mirrors POSIX dev_t for mknod/rdev fields.
type DeviceNumber uint32

// OpContext carries the calling process's credentials and umask, identical
// on every op regardless of opcode.
type OpContext struct {
	Uid   UserID
	Gid   GroupID
	Pid   uint32
	Umask uint32
}

// OpHeader is the subset of OpContext that is actually threaded through to
// handlers on each request (kept distinct from OpContext so that adapters
// that don't need Pid/Umask don't have to carry them).
type OpHeader struct {
	Uid UserID
	Gid GroupID
}
