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

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a POSIX error number, always carried as a negative integer on the
// wire back to the kernel (0 means success; positive values are reserved
// for byte counts on read/write replies, never for errors).
type Errno int32

// The closed set of errno values the bridge knows the name of. Unlisted
// kernel errno values still round-trip through Errno/ErrnoName using their
// raw number, but IsValidErrno only accepts this set plus zero.
const (
	ErrnoSuccess    Errno = 0
	ErrnoPerm       Errno = Errno(-unix.EPERM)
	ErrnoNoEnt      Errno = Errno(-unix.ENOENT)
	ErrnoIO         Errno = Errno(-unix.EIO)
	ErrnoNxIO       Errno = Errno(-unix.ENXIO)
	ErrnoAccess     Errno = Errno(-unix.EACCES)
	ErrnoExist      Errno = Errno(-unix.EEXIST)
	ErrnoNotDir     Errno = Errno(-unix.ENOTDIR)
	ErrnoIsDir      Errno = Errno(-unix.EISDIR)
	ErrnoInval      Errno = Errno(-unix.EINVAL)
	ErrnoNoSpc      Errno = Errno(-unix.ENOSPC)
	ErrnoRoFs       Errno = Errno(-unix.EROFS)
	ErrnoNameTooLng Errno = Errno(-unix.ENAMETOOLONG)
	ErrnoNotEmpty   Errno = Errno(-unix.ENOTEMPTY)
	ErrnoNoSys      Errno = Errno(-unix.ENOSYS)
	ErrnoStale      Errno = Errno(-unix.ESTALE)
	ErrnoRange      Errno = Errno(-unix.ERANGE)
	ErrnoNoData     Errno = Errno(-unix.ENODATA)
	ErrnoNotSup     Errno = Errno(-unix.ENOTSUP)
	ErrnoIntr       Errno = Errno(-unix.EINTR)
	ErrnoAgain      Errno = Errno(-unix.EAGAIN)
	ErrnoShutdown   Errno = Errno(-unix.ESHUTDOWN)
	ErrnoXDev       Errno = Errno(-unix.EXDEV)
	ErrnoOpNotSupp  Errno = Errno(-unix.EOPNOTSUPP)
	ErrnoBadF       Errno = Errno(-unix.EBADF)
	ErrnoLoop       Errno = Errno(-unix.ELOOP)
	ErrnoTimedOut   Errno = Errno(-unix.ETIMEDOUT)
)

var errnoNames = map[Errno]string{
	ErrnoSuccess:    "SUCCESS",
	ErrnoPerm:       "EPERM",
	ErrnoNoEnt:      "ENOENT",
	ErrnoIO:         "EIO",
	ErrnoNxIO:       "ENXIO",
	ErrnoAccess:     "EACCES",
	ErrnoExist:      "EEXIST",
	ErrnoNotDir:     "ENOTDIR",
	ErrnoIsDir:      "EISDIR",
	ErrnoInval:      "EINVAL",
	ErrnoNoSpc:      "ENOSPC",
	ErrnoRoFs:       "EROFS",
	ErrnoNameTooLng: "ENAMETOOLONG",
	ErrnoNotEmpty:   "ENOTEMPTY",
	ErrnoNoSys:      "ENOSYS",
	ErrnoStale:      "ESTALE",
	ErrnoRange:      "ERANGE",
	ErrnoNoData:     "ENODATA",
	ErrnoNotSup:     "ENOTSUP",
	ErrnoIntr:       "EINTR",
	ErrnoAgain:      "EAGAIN",
	ErrnoShutdown:   "ESHUTDOWN",
	ErrnoXDev:       "EXDEV",
	ErrnoBadF:       "EBADF",
	ErrnoLoop:       "ELOOP",
	ErrnoTimedOut:   "ETIMEDOUT",
}

var namesToErrno = func() map[string]Errno {
	m := make(map[string]Errno, len(errnoNames))
	for e, n := range errnoNames {
		m[n] = e
	}
	return m
}()

// ENOTSUP and EOPNOTSUPP share one number on Linux, so the literal above
// cannot list both; EOPNOTSUPP gets its own entry only where they differ.
func init() {
	if _, dup := errnoNames[ErrnoOpNotSupp]; !dup {
		errnoNames[ErrnoOpNotSupp] = "EOPNOTSUPP"
		namesToErrno["EOPNOTSUPP"] = ErrnoOpNotSupp
	}
}

// ErrnoName returns the canonical POSIX name for a known errno, or a
// generic "EUNKNOWN(n)" placeholder otherwise. It never panics and never
// loses the numeric value.
func ErrnoName(e Errno) string {
	if n, ok := errnoNames[e]; ok {
		return n
	}
	return fmt.Sprintf("EUNKNOWN(%d)", int32(e))
}

// ErrnoFromName is the inverse of ErrnoName for the closed set of known
// names; ErrnoFromName(ErrnoName(c)) == c for every valid c.
func ErrnoFromName(name string) (Errno, bool) {
	e, ok := namesToErrno[name]
	return e, ok
}

// IsValidErrno reports whether e is 0 (success) or a recognized negative
// errno code.
func IsValidErrno(e Errno) bool {
	if e == ErrnoSuccess {
		return true
	}
	_, ok := errnoNames[e]
	return ok
}

// OperationAllowedErrno maps an operation name (see the registry allowlist
// in package fuse) to the set of errno values a handler is expected to be
// able to return for it. This is advisory validation, used by adapters in
// debug builds to catch a handler returning a nonsensical code (e.g.
// ENOTDIR from getattr); it never blocks a valid EIO/ENOSYS fallback.
var OperationAllowedErrno = map[string]map[Errno]bool{
	"lookup": set(ErrnoNoEnt, ErrnoAccess, ErrnoNotDir, ErrnoNameTooLng, ErrnoIO),
	"getattr": set(ErrnoNoEnt, ErrnoIO, ErrnoStale),
	"setattr": set(ErrnoNoEnt, ErrnoAccess, ErrnoInval, ErrnoNotSup, ErrnoIO, ErrnoRoFs),
	"readlink": set(ErrnoNoEnt, ErrnoInval, ErrnoIO),
	"mknod": set(ErrnoExist, ErrnoAccess, ErrnoNoSpc, ErrnoRoFs, ErrnoNotDir, ErrnoNameTooLng),
	"mkdir": set(ErrnoExist, ErrnoAccess, ErrnoNoSpc, ErrnoRoFs, ErrnoNotDir, ErrnoNameTooLng),
	"unlink": set(ErrnoNoEnt, ErrnoAccess, ErrnoIsDir, ErrnoRoFs, ErrnoNotDir),
	"rmdir": set(ErrnoNoEnt, ErrnoNotEmpty, ErrnoAccess, ErrnoRoFs, ErrnoNotDir),
	"rename": set(ErrnoNoEnt, ErrnoExist, ErrnoNotEmpty, ErrnoAccess, ErrnoXDev, ErrnoRoFs),
	"link": set(ErrnoNoEnt, ErrnoExist, ErrnoAccess, ErrnoXDev, ErrnoRoFs),
	"open": set(ErrnoNoEnt, ErrnoAccess, ErrnoIsDir, ErrnoIO),
	"read": set(ErrnoBadF, ErrnoIO, ErrnoIntr),
	"write": set(ErrnoBadF, ErrnoNoSpc, ErrnoIO, ErrnoIntr, ErrnoRoFs, ErrnoAgain),
	"flush": set(ErrnoIO),
	"release": set(),
	"fsync": set(ErrnoIO, ErrnoRoFs),
	"opendir": set(ErrnoNoEnt, ErrnoAccess, ErrnoNotDir),
	"readdir": set(ErrnoBadF, ErrnoIO),
	"releasedir": set(),
	"fsyncdir": set(ErrnoIO),
	"statfs": set(ErrnoIO),
	"access": set(ErrnoAccess, ErrnoNoEnt),
	"create": set(ErrnoExist, ErrnoAccess, ErrnoNoSpc, ErrnoRoFs, ErrnoNotDir),
	"copy_file_range": set(ErrnoBadF, ErrnoIO, ErrnoXDev, ErrnoOpNotSupp, ErrnoNoSpc),
	"utimens": set(ErrnoNoEnt, ErrnoAccess, ErrnoRoFs),
	"getxattr": set(ErrnoNoData, ErrnoRange, ErrnoNotSup, ErrnoNoEnt),
	"setxattr": set(ErrnoNoData, ErrnoExist, ErrnoNotSup, ErrnoNoSpc, ErrnoRoFs),
	"listxattr": set(ErrnoRange, ErrnoNotSup),
	"removexattr": set(ErrnoNoData, ErrnoNotSup),
	"fallocate": set(ErrnoNoSpc, ErrnoOpNotSupp, ErrnoIO, ErrnoBadF),
	"lseek": set(ErrnoInval, ErrnoNxIO),
	"flock": set(ErrnoAgain, ErrnoOpNotSupp),
	"lock": set(ErrnoAgain, ErrnoOpNotSupp),
	"ioctl": set(ErrnoNotSup, ErrnoInval),
	"bmap": set(ErrnoOpNotSupp, ErrnoIO),
	"poll": set(ErrnoOpNotSupp),
	"setlk": set(ErrnoAgain, ErrnoOpNotSupp),
	"getlk": set(ErrnoOpNotSupp),
}

func set(codes ...Errno) map[Errno]bool {
	m := make(map[Errno]bool, len(codes)+1)
	m[ErrnoIO] = true // EIO is always a legal fallback for any op.
	for _, c := range codes {
		m[c] = true
	}
	return m
}
