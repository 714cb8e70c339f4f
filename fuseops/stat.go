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

package fuseops

import "os"

// Stat mirrors the POSIX struct stat fields a handler must supply for
// getattr/setattr/lookup/create replies. Every timestamp is a Timestamp,
// never a time.Time, so the nanosecond round-trip invariant (§3) holds
// all the way from the handler through the dispatcher to the kernel
// reply.
type Stat struct {
	Ino    InodeID
	Size   uint64
	Blocks uint64

	Atime Timestamp
	Mtime Timestamp
	Ctime Timestamp

	Mode os.FileMode

	Nlink uint32
	Uid   UserID
	Gid   GroupID
	Rdev  DeviceNumber

	BlockSize uint32
}

// ChildInodeEntry is what lookup/mkdir/mknod/symlink/create/link hand
// back: an inode plus the attribute-cache and entry-cache lifetimes the
// kernel should apply to it.
type ChildInodeEntry struct {
	Child      InodeID
	Generation Generation
	Attributes Stat

	AttributesExpiration Timestamp
	EntryExpiration      Timestamp
}

// Statvfs mirrors struct statvfs for the statfs operation.
type Statvfs struct {
	BlockSize       uint64
	FragmentSize    uint64
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	Files           uint64
	FilesFree       uint64
	FilesAvailable  uint64
	FilesystemID    uint64
	Flags           uint64
	NameMax         uint64
}
