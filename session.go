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

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/adapter"
	"github.com/fusebridge/fusebridge/internal/dispatch"
	"github.com/fusebridge/fusebridge/internal/logger"
	"github.com/fusebridge/fusebridge/internal/pollbridge"
	"github.com/fusebridge/fusebridge/internal/shutdown"
)

// SessionState is one of the five states a Session moves through; see
// the component design's Created -> Mounting -> Mounted -> Unmounting
// -> Destroyed machine (with a Created fallback on mount failure).
type SessionState int

const (
	StateCreated SessionState = iota
	StateMounting
	StateMounted
	StateUnmounting
	StateDestroyed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateMounting:
		return "Mounting"
	case StateMounted:
		return "Mounted"
	case StateUnmounting:
		return "Unmounting"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// ConnectionInfo is the cached result of the init handshake: whatever
// the handler negotiated plus the config values it ended up bound to.
type ConnectionInfo struct {
	Readdirplus  bool
	MaxReadahead uint32
	NegotiatedAt time.Time
}

// Session owns exactly one mountpoint (C6). It wraps a dispatch.Dispatcher
// and the handler registered onto it, plus the shutdown coordinator and
// poll bridge every mounted file system needs. The zero value is not
// valid; use NewSession.
type Session struct {
	mountpoint string
	config     *MountConfig

	mu    sync.Mutex
	state SessionState // GUARDED_BY(mu)

	dispatcher *dispatch.Dispatcher
	shutdown   *shutdown.Coordinator
	polls      *pollbridge.Bridge
	writes     *adapter.Wiring

	connInfo   ConnectionInfo
	connInfoMu sync.RWMutex

	unmountFn func(dir string) error

	readyCh  chan struct{}
	readyErr error
	once     sync.Once

	sigCh  chan os.Signal
	sigDone chan struct{}
}

// NewSession constructs a Session in the Created state. fs is registered
// onto the session's dispatcher under the closed operation name set
// (internal/adapter.Register); unmountFn defaults to this package's
// platform unmount helper when nil (tests may override it).
func NewSession(mountpoint string, fs adapter.FileSystem, config *MountConfig) *Session {
	if config == nil {
		config = DefaultMountConfig()
	}

	s := &Session{
		mountpoint: mountpoint,
		config:     config,
		state:      StateCreated,
		dispatcher: dispatch.New(config.MaxQueueSize),
		polls:      pollbridge.New(nil),
		unmountFn:  unmount,
		readyCh:    make(chan struct{}),
	}

	s.writes = adapter.Register(s.dispatcher, fs, adapter.Config{
		MaxWriteQueueSize:  config.MaxWriteQueueSize,
		CopyChunkSizeBytes: config.CopyChunkSizeBytes,
	})

	s.shutdown = shutdown.New(
		shutdown.Callbacks{
			OnDrainStart: func(reason string) { logger.Infof("session: draining (%s)", reason) },
			OnUnmount:    func(reason string) { logger.Infof("session: unmounting (%s)", reason) },
			OnClosed:     func(reason string) { logger.Infof("session: closed (%s)", reason) },
		},
		s.drain,
		s.doUnmount,
	)

	return s
}

// Mount constructs a Session for fs at dir and blocks until the init
// handshake has either succeeded or failed, mirroring the teacher's
// Mount(dir, server, config) shape. The kernel-facing mount/unmount
// syscalls themselves belong to the host FUSE library, out of scope per
// the non-goal on exposing kernel wire bytes; this function drives the
// managed-side Session state machine around that boundary.
func Mount(ctx context.Context, dir string, fs adapter.FileSystem, config *MountConfig) (*Session, error) {
	s := NewSession(dir, fs, config)
	if err := s.Mount(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Dispatcher exposes the underlying dispatch.Dispatcher so a caller can
// feed it native-world requests (Enqueue) directly; the session itself
// never synthesizes requests.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Mountpoint returns the directory the session owns.
func (s *Session) Mountpoint() string { return s.mountpoint }

// State returns the session's current phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mounted reports whether the session has reached and still holds the
// Mounted state.
func (s *Session) Mounted() bool { return s.State() == StateMounted }

// Join blocks until the session reaches Destroyed (typically via the
// auto-unmount signal hook or an explicit Unmount call from elsewhere),
// mirroring the teacher's MountedFileSystem.Join. The return value is
// non-nil only if ctx expires first.
func (s *Session) Join(ctx context.Context) error {
	for {
		if s.State() == StateDestroyed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// transition moves the session to next, serializing concurrent
// mount/unmount callers.
func (s *Session) transition(next SessionState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Mount drives Created -> Mounting -> Mounted. It starts the
// dispatcher's consumer goroutine, runs the init handshake by invoking
// the registered "init" handler directly (there is no second language
// runtime to wait on a socket handshake from), and registers the
// SIGINT/SIGTERM auto-unmount hook when config.AutoUnmount is set. On
// failure the session falls back to Created.
func (s *Session) Mount(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return fmt.Errorf("fuse: Mount called in state %s", s.state)
	}
	s.state = StateMounting
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.transition(StateCreated)
			s.readyErr = err
			s.once.Do(func() { close(s.readyCh) })
		}
	}()

	s.dispatcher.Initialize()

	if err = s.runInitHandshake(ctx); err != nil {
		return fmt.Errorf("fuse: init handshake: %w", err)
	}

	s.transition(StateMounted)
	debugf(s.config.Debug, "mounted %s (readdirplus=%v)", s.mountpoint, s.connInfo.Readdirplus)

	if s.config.AutoUnmount {
		s.registerSignalHandler()
	}

	s.once.Do(func() { close(s.readyCh) })
	return nil
}

func (s *Session) runInitHandshake(ctx context.Context) error {
	op := &fuseops.InitOp{}

	resultCh, err := s.dispatcher.Enqueue(ctx, "init", op)
	if err != nil {
		return err
	}

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		initialized, ok := res.Reply.(*fuseops.InitOp)
		if !ok {
			initialized = op
		}
		s.connInfoMu.Lock()
		s.connInfo = ConnectionInfo{
			Readdirplus:  initialized.Readdirplus,
			MaxReadahead: initialized.MaxReadahead,
			NegotiatedAt: logger.Now(),
		}
		s.connInfoMu.Unlock()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting %s for init handshake", timeout)
	}
}

// ConnectionInfo returns the cached init handshake result. Valid once
// Mount has succeeded; zero value before that.
func (s *Session) ConnectionInfo() ConnectionInfo {
	s.connInfoMu.RLock()
	defer s.connInfoMu.RUnlock()
	return s.connInfo
}

// WaitMount blocks until Mount has either succeeded or failed.
func (s *Session) WaitMount(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unmount drives Mounted -> Unmounting -> Destroyed via the shutdown
// coordinator, budgeting config.ShutdownTimeout (or the caller-supplied
// timeout, if positive) across Draining and Unmounting. force skips
// Draining, matching forceImmediateShutdown.
func (s *Session) Unmount(reason string, timeout time.Duration, force bool) error {
	s.mu.Lock()
	if s.state != StateMounted && s.state != StateUnmounting {
		s.mu.Unlock()
		return ErrNotMounted
	}
	s.state = StateUnmounting
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.config.ShutdownTimeout
	}

	if force {
		s.shutdown.ForceImmediateShutdown(reason)
	} else {
		s.shutdown.InitiateGracefulShutdown(reason, timeout)
	}

	s.stopSignalHandler()
	s.transition(StateDestroyed)
	return nil
}

// drain is the shutdown coordinator's drainFn: it stops the dispatcher
// from accepting new work, waits for in-flight handlers to finish, and
// gives the C5 write serializer a share of the same budget to flush
// whatever writes are still queued before abandoning the rest.
func (s *Session) drain(budget time.Duration) (forced int) {
	writeBudget := budget / 2

	s.dispatcher.Shutdown(budget - writeBudget)
	stats := s.dispatcher.Stats()
	if stats.CurrentDepth > 0 {
		forced = int(stats.CurrentDepth)
	}

	if s.writes != nil && !s.writes.FlushWrites(writeBudget) {
		forced += s.writes.AbandonWrites()
	}

	s.polls.DestroyAll()
	return
}

// doUnmount is the shutdown coordinator's unmountFn.
func (s *Session) doUnmount() error {
	if s.unmountFn == nil {
		return nil
	}
	return s.unmountFn(s.mountpoint)
}

// registerSignalHandler installs the best-effort auto-unmount hook,
// grounded on gcsfuse's registerSIGINTHandler (cmd/legacy_main.go):
// SIGINT/SIGTERM trigger a graceful Unmount then return, rather than
// leaving the process to be killed with the file system still mounted.
func (s *Session) registerSignalHandler() {
	s.sigCh = make(chan os.Signal, 1)
	s.sigDone = make(chan struct{})
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-s.sigCh:
			logger.Infof("session: received %v, attempting to unmount %s", sig, s.mountpoint)
			if err := s.Unmount("signal", s.config.ShutdownTimeout, false); err != nil {
				logger.Errorf("session: auto-unmount failed: %v", err)
			} else {
				logger.Infof("session: successfully unmounted %s", s.mountpoint)
			}
		case <-s.sigDone:
		}
	}()
}

func (s *Session) stopSignalHandler() {
	if s.sigCh == nil {
		return
	}
	signal.Stop(s.sigCh)
	close(s.sigDone)
	s.sigCh = nil
}
