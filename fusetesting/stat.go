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

// Package fusetesting provides matchers used by integration tests that
// exercise a real mount: stat-based assertions and directory listing
// helpers layered on the standard library's os package.
package fusetesting

import (
	"fmt"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/jacobsa/oglematchers"
)

// MtimeIs matches os.FileInfo values whose mtime equals expected. Where
// Sys() exposes a *syscall.Stat_t (Linux), its mtime is checked too, so
// a test catches a handler that updates ModTime() without also setting
// the wire-level timestamp the kernel will actually see.
func MtimeIs(expected time.Time) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return mtimeIs(c, expected) },
		fmt.Sprintf("mtime is %v", expected))
}

func mtimeIs(c interface{}, expected time.Time) error {
	fi, ok := c.(os.FileInfo)
	if !ok {
		return fmt.Errorf("which is of type %v", reflect.TypeOf(c))
	}

	if !fi.ModTime().Equal(expected) {
		d := fi.ModTime().Sub(expected)
		return fmt.Errorf("which has mtime %v, off by %v", fi.ModTime(), d)
	}

	if sysMtime, ok := extractMtime(fi.Sys()); ok {
		if !sysMtime.Equal(expected) {
			d := sysMtime.Sub(expected)
			return fmt.Errorf("which has Sys() mtime %v, off by %v", sysMtime, d)
		}
	}

	return nil
}

// extractMtime pulls the mtime out of os.FileInfo.Sys() on platforms
// where it's a *syscall.Stat_t.
func extractMtime(sys interface{}) (mtime time.Time, ok bool) {
	st, ok := sys.(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Mtim.Sec, st.Mtim.Nsec), true
}

// BirthtimeIs matches os.FileInfo values with the given birth time.
// Linux's syscall.Stat_t carries no birth time field, so this matches
// every value; it exists for parity with test suites ported from
// platforms that do expose one.
func BirthtimeIs(expected time.Time) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return nil },
		fmt.Sprintf("birthtime is %v (unsupported on this platform)", expected))
}
