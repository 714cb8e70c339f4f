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

package adapter

// DecodeFlockType translates the raw flock(2) lock-type constant the
// Darwin FUSE_LK wire request carries (1=shared, 2=unlock, 3=exclusive)
// into FlockOp's Exclusive/Unlock fields.
func DecodeFlockType(t uint32) (exclusive, unlock bool) {
	switch t {
	case 1:
		return false, false
	case 2:
		return false, true
	case 3:
		return true, false
	default:
		return false, false
	}
}

// EncodeFlockType is DecodeFlockType's inverse, for replies that need to
// echo the wire lock-type constant back.
func EncodeFlockType(exclusive, unlock bool) uint32 {
	switch {
	case unlock:
		return 2
	case exclusive:
		return 3
	default:
		return 1
	}
}
