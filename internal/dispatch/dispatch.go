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

// Package dispatch implements the operation dispatcher: the
// thread-safe handoff point between however many native FUSE worker
// threads call Enqueue concurrently and the single FIFO consumer
// goroutine that starts each registered handler without waiting for it
// to finish.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/reqtrace"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/logger"
)

// AllowedOperations is the closed set of operation names the dispatcher
// will register a handler for. A name outside this set is always
// rejected by SetOperationHandler, so a typo in a handler registration
// can never silently discard the handler.
var AllowedOperations = map[string]bool{
	"init": true, "destroy": true, "lookup": true, "getattr": true,
	"setattr": true, "truncate": true, "readlink": true, "mknod": true,
	"mkdir": true, "chmod": true, "chown": true, "symlink": true,
	"unlink": true, "rmdir": true, "rename": true, "link": true,
	"open": true, "read": true, "read_buf": true, "write": true,
	"write_buf": true, "flush": true, "release": true, "fsync": true,
	"opendir": true, "readdir": true, "releasedir": true, "fsyncdir": true,
	"statfs": true, "access": true, "create": true, "copy_file_range": true,
	"utimens": true, "getxattr": true, "setxattr": true, "listxattr": true,
	"removexattr": true, "fallocate": true, "lseek": true, "flock": true,
	"lock": true, "ioctl": true, "bmap": true, "poll": true,
	"setlk": true, "getlk": true,
}

// Handler services one dequeued request. It must return a reply value
// (whatever the matching operation adapter expects) or an error; a
// *fuseops.FuseErrno error is passed straight through to the kernel
// reply, anything else is logged and reported as EIO.
type Handler func(ctx context.Context, arg interface{}) (interface{}, error)

// ErrShuttingDown is returned by Enqueue once Shutdown has been called.
var ErrShuttingDown = errors.New("dispatch: shutting down")

// ErrQueueFull is returned by Enqueue when the bounded queue has no
// room; callers should translate this to EAGAIN at the kernel boundary.
var ErrQueueFull = errors.New("dispatch: queue full")

// ErrUnknownOperation is returned by SetOperationHandler/
// RemoveOperationHandler for a name outside AllowedOperations.
var ErrUnknownOperation = errors.New("dispatch: unknown operation name")

// Result is what a completed request resolves to.
type Result struct {
	Reply interface{}
	Err   error
}

type request struct {
	name     string
	arg      interface{}
	ctx      context.Context
	resultCh chan Result
	enqueued time.Time
}

// Stats mirrors the counters a dispatcher exposes: cumulative enqueue
// and completion counts, current and peak queue depth, and per-opcode
// completion counts.
type Stats struct {
	EnqueueCount    uint64
	CompletionCount uint64
	CurrentDepth    int64
	PeakDepth       int64
	PerOpcode       map[string]uint64
}

const (
	stateRunning = iota
	stateDraining
	stateClosed
)

// Dispatcher is the C3 operation dispatcher.
type Dispatcher struct {
	maxQueueSize int
	queue        chan *request

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	state atomic.Int32

	enqueueCount    atomic.Uint64
	completionCount atomic.Uint64
	currentDepth    atomic.Int64
	peakDepth       atomic.Int64

	perOpMu  sync.Mutex
	perOpcode map[string]uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	// pidOf is non-nil only once EnableTraceByPID has been called; left
	// nil, per-PID tracing costs nothing on the hot path.
	pidOf PIDOf
}

// New constructs a Dispatcher with the given bounded queue size. It
// must be started with Initialize before Enqueue is called.
func New(maxQueueSize int) *Dispatcher {
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}
	return &Dispatcher{
		maxQueueSize: maxQueueSize,
		queue:        make(chan *request, maxQueueSize),
		handlers:     make(map[string]Handler),
		perOpcode:    make(map[string]uint64),
		done:         make(chan struct{}),
	}
}

// Initialize starts the single FIFO consumer goroutine.
func (d *Dispatcher) Initialize() {
	d.wg.Add(1)
	go d.consume()
}

// SetOperationHandler registers fn for name, replacing any existing
// registration (idempotent). Returns ErrUnknownOperation for a name
// outside AllowedOperations.
func (d *Dispatcher) SetOperationHandler(name string, fn Handler) error {
	if !AllowedOperations[name] {
		return ErrUnknownOperation
	}
	d.handlersMu.Lock()
	d.handlers[name] = fn
	d.handlersMu.Unlock()
	return nil
}

// RemoveOperationHandler detaches the handler for name, if any.
func (d *Dispatcher) RemoveOperationHandler(name string) {
	d.handlersMu.Lock()
	delete(d.handlers, name)
	d.handlersMu.Unlock()
}

func (d *Dispatcher) handlerFor(name string) (Handler, bool) {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	fn, ok := d.handlers[name]
	return fn, ok
}

// Enqueue places a request for the named operation on the bounded
// queue and returns a channel the caller can receive the eventual
// Result from. Safe to call concurrently from any number of native
// worker goroutines.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, arg interface{}) (<-chan Result, error) {
	if d.state.Load() != stateRunning {
		return nil, ErrShuttingDown
	}

	req := &request{
		name:     name,
		arg:      arg,
		ctx:      ctx,
		resultCh: make(chan Result, 1),
		enqueued: time.Now(),
	}

	select {
	case d.queue <- req:
	default:
		return nil, ErrQueueFull
	}

	d.enqueueCount.Add(1)
	depth := d.currentDepth.Add(1)
	for {
		peak := d.peakDepth.Load()
		if depth <= peak || d.peakDepth.CompareAndSwap(peak, depth) {
			break
		}
	}

	return req.resultCh, nil
}

func (d *Dispatcher) consume() {
	defer d.wg.Done()

	for {
		select {
		case req, ok := <-d.queue:
			if !ok {
				return
			}
			d.currentDepth.Add(-1)
			d.dispatchOne(req)
		case <-d.done:
			// Drain whatever is already queued before exiting, so nothing
			// enqueued prior to shutdown is silently dropped.
			for {
				select {
				case req := <-d.queue:
					d.currentDepth.Add(-1)
					d.dispatchOne(req)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatchOne(req *request) {
	if req.ctx != nil && req.ctx.Err() != nil {
		d.complete(req, Result{Err: fuseops.NewErrno(fuseops.ErrnoIntr, "")})
		return
	}

	fn, ok := d.handlerFor(req.name)
	if !ok {
		d.complete(req, Result{Err: fuseops.NewErrno(fuseops.ErrnoNoSys, req.name)})
		return
	}

	// Run the handler in its own goroutine: the consumer must never
	// block waiting for a single handler to finish. Shutdown waits on wg
	// for these goroutines too.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("dispatch: handler for %s panicked: %v", req.name, r)
				d.complete(req, Result{Err: fuseops.NewErrno(fuseops.ErrnoIO, req.name)})
			}
		}()

		ctx := d.traceContext(req.ctx, req.arg)
		var reportSpan reqtrace.ReportFunc
		if reqtrace.Enabled() {
			ctx, reportSpan = reqtrace.StartSpan(ctx, req.name)
		}
		req.ctx = ctx

		reply, err := fn(req.ctx, req.arg)
		if reportSpan != nil {
			reportSpan(err)
		}

		if req.ctx != nil && req.ctx.Err() != nil && err == nil {
			err = fuseops.NewErrno(fuseops.ErrnoIntr, req.name)
		}

		d.complete(req, Result{Reply: reply, Err: err})
	}()
}

func (d *Dispatcher) complete(req *request, res Result) {
	d.completionCount.Add(1)

	d.perOpMu.Lock()
	d.perOpcode[req.name]++
	d.perOpMu.Unlock()

	req.resultCh <- res
}

// Shutdown stops accepting new work (subsequent Enqueue calls return
// ErrShuttingDown) and waits up to timeout for in-flight and still
// queued requests to complete. Anything not completed by the deadline
// is abandoned; callers that are still waiting on its result channel
// will simply never receive one, matching "remaining requests are
// replied with EIO and abandoned" at the adapter layer, which applies
// its own timeout on the result channel.
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.stopOnce.Do(func() {
		d.state.Store(stateDraining)
		close(d.done)
	})

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(timeout):
		logger.Warnf("dispatch: shutdown timed out after %s with requests still in flight", timeout)
	}

	d.state.Store(stateClosed)
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.perOpMu.Lock()
	perOp := make(map[string]uint64, len(d.perOpcode))
	for k, v := range d.perOpcode {
		perOp[k] = v
	}
	d.perOpMu.Unlock()

	return Stats{
		EnqueueCount:    d.enqueueCount.Load(),
		CompletionCount: d.completionCount.Load(),
		CurrentDepth:    d.currentDepth.Load(),
		PeakDepth:       d.peakDepth.Load(),
		PerOpcode:       perOp,
	}
}

// ResetStats zeroes the dispatcher's counters.
func (d *Dispatcher) ResetStats() {
	d.enqueueCount.Store(0)
	d.completionCount.Store(0)
	d.peakDepth.Store(d.currentDepth.Load())
	d.perOpMu.Lock()
	d.perOpcode = make(map[string]uint64)
	d.perOpMu.Unlock()
}
