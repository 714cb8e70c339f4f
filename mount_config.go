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

import "time"

// MountConfig is the mount option surface for a Session (C6). Unknown
// entries in Options are ignored by design, matching the component's
// documented "unknown options are ignored" contract.
type MountConfig struct {
	// AllowOther lets users other than the mount's owner access the file
	// system (allow_other).
	AllowOther bool

	// AllowRoot lets root access the file system even when AllowOther is
	// unset (allow_root).
	AllowRoot bool

	// AutoUnmount registers a best-effort unmount on SIGINT/SIGTERM; a
	// normal process exit does not trigger it.
	AutoUnmount bool

	// DefaultPermissions asks the kernel to do its own permission checks
	// against the mode bits a handler returns, rather than deferring
	// entirely to Access.
	DefaultPermissions bool

	// Options is a free-form list of additional mount options. The
	// session carries it uninterpreted and does not apply it.
	Options []string

	// Debug enables the session's debugf lines at DEBUG severity (the
	// completed mount is logged); individual dispatched operations are
	// not logged.
	Debug bool

	// SingleThreaded is carried in the config but not consulted: the
	// dispatcher always starts each handler in its own goroutine without
	// waiting for the previous one to finish.
	SingleThreaded bool

	// MaxRead and MaxWrite cap the size of a single read/write the kernel
	// will send; zero means let the host FUSE library pick a default.
	MaxRead  uint32
	MaxWrite uint32

	// Timeout bounds how long Mount waits for the init handshake to
	// complete before giving up.
	Timeout time.Duration

	// MaxQueueSize is the dispatcher's bounded queue capacity; zero means
	// dispatch.New's own default.
	MaxQueueSize int

	// ShutdownTimeout bounds Session.Unmount's graceful drain, split
	// between Draining and Unmounting per shutdown.Coordinator's
	// DrainTimeoutFraction.
	ShutdownTimeout time.Duration

	// MaxWriteQueueSize bounds how many writes the C5 write serializer
	// will hold per handle before Enqueue starts returning ENOSPC; zero
	// means unbounded.
	MaxWriteQueueSize int

	// CopyChunkSizeBytes sets the C9 copy-range adapter's fallback chunk
	// size when the kernel fastpath is unavailable; zero means
	// copyrange.DefaultChunkSize.
	CopyChunkSizeBytes int
}

// DefaultMountConfig mirrors the conservative defaults a bare Mount call
// without an explicit config should use.
func DefaultMountConfig() *MountConfig {
	return &MountConfig{
		DefaultPermissions: true,
		MaxQueueSize:       1000,
		ShutdownTimeout:    10 * time.Second,
		MaxWriteQueueSize:  256,
	}
}
