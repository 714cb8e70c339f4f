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

// Package fuse owns the FUSE session lifecycle: mount option surface,
// the Created -> Mounting -> Mounted -> Unmounting -> Destroyed state
// machine, and the auto-unmount signal hook.
//
// The primary elements of interest are:
//
//   - Session, created with NewSession and driven through Mount and
//     Unmount; it owns exactly one mountpoint.
//
//   - MountConfig, the mount option surface (allow_other, allow_root,
//     auto_unmount, default_permissions, ...).
//
//   - adapter.FileSystem, the interface a handler implements; a Session
//     wires one onto its internal dispatch.Dispatcher via
//     internal/adapter.Register.
//
// A Session does not itself speak the kernel FUSE wire protocol or issue
// the mount syscall: Mount runs the init handshake through the
// dispatcher, and the only kernel-facing step in this package is the
// fusermount call in unmount_linux.go. The kernel-facing MountConfig
// fields (AllowOther, AllowRoot, DefaultPermissions, Options, MaxRead,
// MaxWrite) are carried but not applied here.
package fuse
