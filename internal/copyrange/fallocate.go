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

package copyrange

import (
	"os"

	fallocate "github.com/detailyang/go-fallocate"
)

// preallocateDest best-effort pre-sizes fdOut's [offset, offset+length)
// range before the chunked fallback loop writes to it sequentially,
// reducing fragmentation on file systems that honor fallocate. Errors
// are ignored: this is a performance hint, not a correctness
// requirement, and many file systems (or fdOut pointing at a pipe or
// socket) simply don't support it.
func preallocateDest(fdOut int, offset int64, length uint64) {
	if length == 0 {
		return
	}
	f := os.NewFile(uintptr(fdOut), "")
	if f == nil {
		return
	}
	_ = fallocate.Fallocate(f, offset, int64(length))
}
