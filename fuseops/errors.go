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
	"errors"
	"fmt"
)

// FuseErrno is the structured error value every handler-facing API in
// this module returns instead of a bare error string. It always knows
// its own errno and can answer the predicates below without the caller
// needing to compare against platform-specific syscall constants.
type FuseErrno struct {
	Errno   Errno
	Syscall string // optional, e.g. "open"
	Path    string // optional
	Message string // optional, human-readable detail
}

// NewErrno builds a FuseErrno for e, optionally annotated with the
// syscall or path that produced it.
func NewErrno(e Errno, detail string) *FuseErrno {
	fe := &FuseErrno{Errno: e}
	if detail != "" {
		fe.Path = detail
	}
	return fe
}

func (e *FuseErrno) Error() string {
	name := ErrnoName(e.Errno)
	switch {
	case e.Syscall != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", e.Syscall, e.Path, name)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", name, e.Path)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", name, e.Message)
	default:
		return name
	}
}

// IsNotExist reports whether e is ENOENT.
func (e *FuseErrno) IsNotExist() bool { return e.Errno == ErrnoNoEnt }

// IsPermission reports whether e is EACCES or EPERM.
func (e *FuseErrno) IsPermission() bool {
	return e.Errno == ErrnoAccess || e.Errno == ErrnoPerm
}

// IsExist reports whether e is EEXIST.
func (e *FuseErrno) IsExist() bool { return e.Errno == ErrnoExist }

// IsTemporary reports whether e is a condition worth retrying: EAGAIN,
// EINTR, or ETIMEDOUT.
func (e *FuseErrno) IsTemporary() bool {
	switch e.Errno {
	case ErrnoAgain, ErrnoIntr, ErrnoTimedOut:
		return true
	default:
		return false
	}
}

// IsIO reports whether e is EIO.
func (e *FuseErrno) IsIO() bool { return e.Errno == ErrnoIO }

// IsInvalid reports whether e is EINVAL.
func (e *FuseErrno) IsInvalid() bool { return e.Errno == ErrnoInval }

// AsErrno extracts the FuseErrno from err if it is one, or if err wraps
// one (errors.As), returning ok=false otherwise.
func AsErrno(err error) (*FuseErrno, bool) {
	var fe *FuseErrno
	ok := errors.As(err, &fe)
	return fe, ok
}
