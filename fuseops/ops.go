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

// Package fuseops contains the request/response structs for every FUSE
// operation the dispatcher (package dispatch) knows how to route, plus
// the identifier, timestamp and errno types they're built from. Handlers
// receive one of the Op types below and must set the "set by the
// handler" fields described on each before returning.
package fuseops

import "os"

// OpenFlags mirrors the subset of open(2)/fcntl(2) flags the bridge
// passes through to handlers untranslated (O_RDONLY, O_WRONLY, O_RDWR,
// O_APPEND, O_CREAT, O_EXCL, O_TRUNC, O_DIRECT, O_NONBLOCK, ...); it
// replaces the teacher's dependency on a bazil-fuse-specific flag type
// since the kernel wire decoding that produced that type is out of
// scope here (see the non-goal on exposing kernel wire bytes).
type OpenFlags uint32

////////////////////////////////////////////////////////////////////////
// Init / destroy
////////////////////////////////////////////////////////////////////////

// InitOp is sent once at the start of a session, before any other op.
// It must succeed for the mount to proceed. Handlers may use it to
// advertise readdirplus support by setting Readdirplus.
type InitOp struct {
	Header OpHeader

	// Set by the handler: advertises that readdir entries may carry a
	// populated ChildInodeEntry, letting the kernel skip a follow-up
	// lookup per entry.
	Readdirplus bool

	// Set by the handler: the readahead size it asks for. The session
	// records it in ConnectionInfo.MaxReadahead; MountConfig is left
	// unchanged.
	MaxReadahead uint32
}

// DestroyOp is sent once, after the last other op, when the session is
// tearing down. Handlers should use it to flush any buffered state;
// there is no reply payload.
type DestroyOp struct {
	Header OpHeader
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// LookUpInodeOp looks up a child by name within a parent directory. The
// kernel sends this when resolving user paths to dentries, which are
// then cached according to Entry.EntryExpiration.
type LookUpInodeOp struct {
	Header OpHeader

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent.
	Name string

	// Set by the handler.
	Entry ChildInodeEntry
}

// GetInodeAttributesOp refreshes the attributes for an inode whose ID
// was previously returned in a LookUpInodeOp, sent when the kernel's
// cache of inode attributes goes stale (see
// ChildInodeEntry.AttributesExpiration).
type GetInodeAttributesOp struct {
	Header OpHeader

	Inode InodeID

	// Set by the handler.
	Attributes           Stat
	AttributesExpiration Timestamp
}

// SetInodeAttributesOp changes attributes for an inode: chmod(2),
// chown(2), truncate(2)/ftruncate(2), and utimens(2) all arrive here
// with only the relevant pointer fields populated.
type SetInodeAttributesOp struct {
	Header OpHeader

	Inode InodeID

	// The attributes to modify, or nil for attributes that don't need a
	// change.
	Size  *uint64
	Mode  *os.FileMode
	Atime *Timestamp
	Mtime *Timestamp
	Uid   *UserID
	Gid   *GroupID

	// Set by the handler.
	Attributes           Stat
	AttributesExpiration Timestamp
}

// ForgetInodeOp forgets an inode ID previously issued. The kernel
// guarantees the ID will not be used again unless reissued by the
// handler.
type ForgetInodeOp struct {
	Header OpHeader
	Inode  InodeID
}

// ReadSymlinkOp reads the target of a symlink inode.
type ReadSymlinkOp struct {
	Header OpHeader
	Inode  InodeID

	// Set by the handler.
	Target string
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// MkDirOp creates a directory inode as a child of an existing directory
// inode, in response to mkdir(2).
type MkDirOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Mode   os.FileMode

	// Set by the handler.
	Entry ChildInodeEntry
}

// MkNodOp creates a non-directory, non-symlink inode (device node or
// named pipe, most commonly) as a child of an existing directory, in
// response to mknod(2).
type MkNodOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Mode   os.FileMode
	Rdev   DeviceNumber

	// Set by the handler.
	Entry ChildInodeEntry
}

// SymlinkOp creates a symlink inode, in response to symlink(2).
type SymlinkOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Target string

	// Set by the handler.
	Entry ChildInodeEntry
}

// LinkOp creates a hard link to an existing inode, in response to
// link(2).
type LinkOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Target InodeID

	// Set by the handler.
	Entry ChildInodeEntry
}

// RenameOp renames (and possibly moves) a directory entry, in response
// to rename(2). If NewParent already has a child named NewName, the
// handler is responsible for atomically replacing it per POSIX
// rename(2) semantics (including the empty-directory check for
// directory targets).
type RenameOp struct {
	Header OpHeader

	OldParent InodeID
	OldName   string
	NewParent InodeID
	NewName   string
}

// CreateFileOp creates a file inode and opens it, in response to
// open(2) with O_CREAT when the kernel has observed the file doesn't
// exist. Handlers should still check for existence themselves and
// return EEXIST, since the kernel's pre-check is best-effort.
type CreateFileOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Mode   os.FileMode
	Flags  OpenFlags

	// Set by the handler: the new inode, and a handle usable in
	// subsequent ReadFileOp/WriteFileOp/ReleaseFileHandleOp calls for it
	// until release.
	Entry  ChildInodeEntry
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// Unlinking
////////////////////////////////////////////////////////////////////////

// RmDirOp unlinks a directory from its parent. The handler is
// responsible for checking that the directory is empty.
type RmDirOp struct {
	Header OpHeader
	Parent InodeID
	Name   string
}

// UnlinkOp unlinks a file from its parent. If this brings the inode's
// link count to zero, it should be deleted once the kernel sends
// ForgetInodeOp.
type UnlinkOp struct {
	Header OpHeader
	Parent InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// OpenDirOp opens a directory inode, usually in response to an
// open(2)/opendir(3) call.
type OpenDirOp struct {
	Header OpHeader
	Inode  InodeID
	Flags  OpenFlags

	// Set by the handler: an opaque ID echoed in follow-up calls for this
	// directory until ReleaseDirHandleOp.
	Handle HandleID
}

// ReadDirOp reads entries from a directory previously opened with
// OpenDirOp. Offset is an opaque cursor: any value the handler is
// willing to accept as "the position after the previously returned
// entry there", not necessarily a byte count. See fuseutil.WriteDirent
// for producing Data; an empty Data indicates end of stream. Size
// bounds the entries the handler may pack into Data for this call;
// unlike the byte-level detail, the size-budget accounting mirrors
// what the kernel's fuse_dirent wire format actually charges per entry.
type ReadDirOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset DirOffset
	Size   int

	// Set by the handler.
	Data []byte
}

// ReleaseDirHandleOp releases a previously minted directory handle; the
// kernel guarantees the ID will not be reused in further calls unless
// reissued.
type ReleaseDirHandleOp struct {
	Header OpHeader
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// OpenFileOp opens a file inode, usually in response to open(2).
type OpenFileOp struct {
	Header OpHeader
	Inode  InodeID
	Flags  OpenFlags

	// Set by the handler.
	Handle HandleID

	// Set by the handler: when true, the kernel is told it may serve
	// subsequent reads on this handle directly from the page cache
	// without calling back into ReadFileOp.
	KeepPageCache bool
}

// ReadFileOp reads data from a file previously opened with
// CreateFileOp or OpenFileOp. The FUSE contract requires exactly the
// requested byte count be returned except at EOF or on error.
type ReadFileOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset int64
	Size   int

	// Set by the handler: the data read. Less than Size indicates EOF; an
	// error should not also be returned in that case.
	Data []byte
}

// ReadFileScatterOp is the scatter/gather ("read_buf") variant of
// ReadFileOp: handlers may populate Buffers directly from pooled
// buffers (see package buffer) to avoid an extra copy for large reads.
type ReadFileScatterOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset int64
	Size   int

	// Set by the handler.
	Buffers [][]byte
}

// WriteFileOp writes data to a file previously opened with
// CreateFileOp or OpenFileOp. FUSE requires exactly the supplied byte
// count be written except on error.
type WriteFileOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset int64
	Data   []byte

	// Priority this write should be serviced at by the write serializer
	// (package writequeue); zero value is WritePriorityNormal.
	Priority WritePriority
}

// WriteFileScatterOp is the scatter/gather ("write_buf") variant of
// WriteFileOp.
type WriteFileScatterOp struct {
	Header OpHeader

	Inode    InodeID
	Handle   HandleID
	Offset   int64
	Buffers  [][]byte
	Priority WritePriority
}

// WritePriority orders writes within the per-handle write serializer;
// see C5. Urgent drains ahead of everything else, Low only drains once
// nothing higher is queued for that handle.
type WritePriority int

const (
	WritePriorityLow WritePriority = iota - 1
	WritePriorityNormal
	WritePriorityHigh
	WritePriorityUrgent
)

// SyncFileOp synchronizes the current contents of an open file to
// storage, in response to fsync(2)/fdatasync(2).
type SyncFileOp struct {
	Header OpHeader
	Inode  InodeID
	Handle HandleID
}

// FlushFileOp flushes the current state of an open file upon closing a
// file descriptor. Not one-to-one with OpenFileOp/CreateFileOp: may
// fire more than once (dup2(2)) or not at all for a given handle, so it
// must not be used for reference counting; use ReleaseFileHandleOp for
// that.
type FlushFileOp struct {
	Header OpHeader
	Inode  InodeID
	Handle HandleID
}

// ReleaseFileHandleOp releases a previously minted file handle; the
// kernel guarantees the ID will not be reused in further calls unless
// reissued.
type ReleaseFileHandleOp struct {
	Header OpHeader
	Handle HandleID
}

// FallocateOp preallocates or deallocates space for an open file, in
// response to fallocate(2)/posix_fallocate(3).
type FallocateOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset int64
	Length int64
	Mode   uint32
}

// LseekOp resolves SEEK_DATA/SEEK_HOLE offsets for sparse files, in
// response to lseek(2) whence values the kernel cannot itself resolve
// from the page cache.
type LseekOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Offset int64
	Whence int

	// Set by the handler.
	ResultOffset int64
}

// CopyFileRangeOp copies a byte range between two open files without a
// user-space round trip, in response to copy_file_range(2). Either
// offset may be nil, meaning "use and advance the handle's current
// file position" exactly as the syscall defines.
type CopyFileRangeOp struct {
	Header OpHeader

	InodeIn   InodeID
	HandleIn  HandleID
	OffsetIn  *int64
	InodeOut  InodeID
	HandleOut HandleID
	OffsetOut *int64
	Length    uint64
	Flags     uint32

	// Set by the handler: the number of bytes actually copied.
	BytesCopied uint64
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

// GetXattrOp is the two-phase (size-query then data-fetch) extended
// attribute read, in response to getxattr(2). Size 0 means "tell me how
// large the value is by setting BytesNeeded"; a nonzero Size means
// "copy up to Size bytes into Data, or return ERANGE if it doesn't
// fit".
type GetXattrOp struct {
	Header OpHeader

	Inode InodeID
	Name  string
	Size  int

	// Set by the handler.
	Data        []byte
	BytesNeeded int
}

// XattrCreateOrReplace constrains setxattr(2)'s XATTR_CREATE/
// XATTR_REPLACE flags.
type XattrCreateOrReplace int

const (
	XattrEither XattrCreateOrReplace = iota
	XattrCreateOnly
	XattrReplaceOnly
)

// SetXattrOp sets an extended attribute, in response to setxattr(2).
// The handler must honor Flags: XattrCreateOnly fails with EEXIST if
// the attribute is already set, XattrReplaceOnly fails with ENODATA if
// it is not.
type SetXattrOp struct {
	Header OpHeader

	Inode InodeID
	Name  string
	Data  []byte
	Flags XattrCreateOrReplace
}

// ListXattrOp lists extended attribute names, in response to
// listxattr(2). Same two-phase size-query protocol as GetXattrOp.
type ListXattrOp struct {
	Header OpHeader

	Inode InodeID
	Size  int

	// Set by the handler: a sequence of NUL-terminated names.
	Data        []byte
	BytesNeeded int
}

// RemoveXattrOp removes an extended attribute, in response to
// removexattr(2).
type RemoveXattrOp struct {
	Header OpHeader
	Inode  InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Filesystem-level / misc
////////////////////////////////////////////////////////////////////////

// StatFSOp reports file system-level statistics, in response to
// statfs(2)/statvfs(3).
type StatFSOp struct {
	Header OpHeader

	// Set by the handler.
	Stat Statvfs
}

// AccessOp checks whether the calling process may access an inode in
// the given mode, in response to access(2). Only relevant when the
// session was mounted without DefaultPermissions.
type AccessOp struct {
	Header OpHeader
	Inode  InodeID
	Mask   uint32
}

// IoctlOp passes through a device-specific ioctl(2) call. The bridge
// does not interpret Cmd or Arg; it is up to the handler to know the
// commands it supports and return ENOTTY-equivalent (ENOTSUP here)
// otherwise.
type IoctlOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Cmd    uint32
	Arg    uint64
	InData []byte
	OutLen uint32

	// Set by the handler.
	Result  int32
	OutData []byte
}

// BmapOp maps a logical file block to a physical device block, in
// response to bmap(2). Relevant only to file systems backed by a real
// block device; rarely implemented otherwise.
type BmapOp struct {
	Header OpHeader

	Inode     InodeID
	BlockSize uint32
	Block     uint64

	// Set by the handler.
	PhysicalBlock uint64
}

// PollOp registers (or re-registers) interest in readiness notification
// for an open handle, in response to poll(2). Kh is the kernel's opaque
// poll handle key; handlers that want to push readiness later call back
// through the poll bridge (package pollbridge) using the same key.
type PollOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Kh     uint64

	// Set by the handler: the currently-ready poll event mask.
	Revents uint32
}

// LockType distinguishes the two POSIX locking families FUSE exposes.
type LockType int

const (
	LockTypeFlock LockType = iota
	LockTypePOSIX
)

// LockOwner is an opaque per-open-file-description lock owner token
// supplied by the kernel; equality, not interpretation, is all that
// matters.
type LockOwner uint64

// FlockOp requests or releases a whole-file advisory lock, in response
// to flock(2).
type FlockOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Owner  LockOwner
	Exclusive bool
	Unlock    bool

	// NonBlocking is set when the caller passed LOCK_NB; the handler must
	// return EAGAIN rather than blocking if the lock is unavailable.
	NonBlocking bool
}

// ByteRangeLock describes one POSIX record lock, in the same terms as
// struct flock.
type ByteRangeLock struct {
	Start int64
	// End is exclusive; 0 combined with Start == 0 means "to EOF".
	End     int64
	Locking bool // true for F_WRLCK, false for F_RDLCK; ignored when unlocking.
}

// SetLockOp sets or clears a POSIX record lock, in response to
// fcntl(2) F_SETLK/F_SETLKW.
type SetLockOp struct {
	Header OpHeader

	Inode       InodeID
	Handle      HandleID
	Owner       LockOwner
	Lock        ByteRangeLock
	Unlock      bool
	NonBlocking bool
}

// GetLockOp tests whether a POSIX record lock could be acquired, in
// response to fcntl(2) F_GETLK, without actually acquiring it.
type GetLockOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
	Owner  LockOwner
	Lock   ByteRangeLock

	// Set by the handler: the conflicting lock, if any is held. If no
	// lock conflicts, the handler should set Lock.Locking's absence by
	// leaving Conflict nil.
	Conflict *ByteRangeLock
}
