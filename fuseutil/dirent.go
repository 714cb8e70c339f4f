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

// Package fuseutil holds helpers shared across handlers: directory
// entry sizing/encoding for readdir's size-budget pagination, and the
// FileSystem-facing conveniences the reference implementation (package
// memfs) builds on.
package fuseutil

import "github.com/fusebridge/fusebridge/fuseops"

// Dirent is one readdir entry, in the same shape the kernel's
// fuse_dirent wire record carries: 8-byte-aligned name padding and a
// Type taken from fuseops.Filetype.
type Dirent struct {
	Offset fuseops.DirOffset
	Inode  fuseops.InodeID
	Name   string
	Type   fuseops.Filetype
}

// direntHeaderSize mirrors the fixed portion of fuse_dirent: ino (8) +
// off (8) + namelen (4) + type (4).
const direntHeaderSize = 8 + 8 + 4 + 4
const direntAlignment = 8

// DirentSize returns the number of bytes WriteDirent will need for d,
// including alignment padding. Callers use this to decide, before ever
// calling WriteDirent, whether an entry fits in a size-budgeted page.
func DirentSize(d Dirent) int {
	n := direntHeaderSize + len(d.Name)
	if pad := n % direntAlignment; pad != 0 {
		n += direntAlignment - pad
	}
	return n
}

// WriteDirent writes d into buf in fuse_dirent wire layout, returning
// the number of bytes written, or 0 if it would not fit.
func WriteDirent(buf []byte, d Dirent) int {
	size := DirentSize(d)
	if size > len(buf) {
		return 0
	}

	putUint64(buf[0:8], uint64(d.Inode))
	putUint64(buf[8:16], uint64(d.Offset))
	putUint32(buf[16:20], uint32(len(d.Name)))
	putUint32(buf[20:24], uint32(d.Type))

	n := direntHeaderSize
	n += copy(buf[n:], d.Name)
	for n < size {
		buf[n] = 0
		n++
	}
	return n
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Page is the result of paginating a directory listing against a size
// budget: the encoded entries plus whether more remain.
type Page struct {
	Data       []byte
	HasMore    bool
	NextOffset fuseops.DirOffset
}

// PaginateDirents packs as many consecutive entries (starting at the
// one whose Offset equals startOffset, or the first entry if
// startOffset is 0) as fit within sizeBudget, always willing to include
// "." and ".." since callers pass them as ordinary entries at the front
// of the slice. NextOffset is the Offset field of the first entry not
// included, so a follow-up call with that as startOffset resumes
// exactly where this one left off.
func PaginateDirents(entries []Dirent, startOffset fuseops.DirOffset, sizeBudget int) Page {
	start := 0
	for i, e := range entries {
		if e.Offset >= startOffset {
			start = i
			break
		}
		start = i + 1
	}

	buf := make([]byte, 0, sizeBudget)
	i := start
	for ; i < len(entries); i++ {
		size := DirentSize(entries[i])
		if len(buf)+size > sizeBudget {
			break
		}
		tmp := make([]byte, size)
		WriteDirent(tmp, entries[i])
		buf = append(buf, tmp...)
	}

	page := Page{Data: buf, HasMore: i < len(entries)}
	if page.HasMore {
		page.NextOffset = entries[i].Offset
	} else if len(entries) > 0 {
		page.NextOffset = entries[len(entries)-1].Offset + 1
	}
	return page
}
