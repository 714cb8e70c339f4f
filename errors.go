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

package fuse

import "errors"

// ErrExternallyManagedMountPoint wraps a failed fusermount unmount of a
// /dev/fd/N mountpoint, a descriptor handed to us by a supervising
// process (e.g. an auto_unmount wrapper). The platform unmount helper
// returns it; the shutdown coordinator only logs unmount errors, so
// Session.Unmount does not return it.
var ErrExternallyManagedMountPoint = errors.New("fuse: mountpoint is externally managed")

// ErrNotMounted is returned by Session.Unmount when the session is
// neither Mounted nor Unmounting: it never mounted, or it has already
// been destroyed.
var ErrNotMounted = errors.New("fuse: session is not mounted")
