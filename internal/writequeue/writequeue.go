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

// Package writequeue implements the write serializer (C5): per-fd
// ordered queues across four priority bands, draining in priority
// order with FIFO tiebreaking within a band, grounded on the teacher
// ecosystem's static worker pool pattern (gcsfuse's
// internal/workerpool.StaticWorkerPool) but specialized to per-fd
// ordering rather than a flat job pool.
package writequeue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/fusebridge/fusebridge/fuseops"
)

// ErrQueueFull is returned by Enqueue when the fd's queue (or the
// default max-queue-size, whichever is configured) is already at
// capacity.
var ErrQueueFull = errors.New("writequeue: fd queue full")

// ErrShuttingDown is returned by Enqueue once AbandonAll has run.
var ErrShuttingDown = errors.New("writequeue: shutting down")

// Executor services one dequeued write. A negative return signals a
// reply errno (set via err) and aborts the operation; a non-negative
// return is the number of bytes acknowledged.
type Executor func(op *Op) (bytesAcked int, err error)

// Op is one queued write operation.
type Op struct {
	ID       uint64
	Fd       uint64
	Offset   int64
	Data     []byte
	Priority fuseops.WritePriority

	seq      uint64
	done     chan Completion
}

// Completion is delivered exactly once per enqueued write.
type Completion struct {
	BytesWritten int
	Err          error
}

// Wait blocks until the operation completes.
func (op *Op) Wait() Completion {
	return <-op.done
}

// fdQueue is a priority heap of pending writes for one fd. Heap order:
// higher Priority first, then lower seq (FIFO within a band).
type fdQueue struct {
	ops []*Op
}

func (q *fdQueue) Len() int { return len(q.ops) }
func (q *fdQueue) Less(i, j int) bool {
	if q.ops[i].Priority != q.ops[j].Priority {
		return q.ops[i].Priority > q.ops[j].Priority
	}
	return q.ops[i].seq < q.ops[j].seq
}
func (q *fdQueue) Swap(i, j int) { q.ops[i], q.ops[j] = q.ops[j], q.ops[i] }
func (q *fdQueue) Push(x interface{}) { q.ops = append(q.ops, x.(*Op)) }
func (q *fdQueue) Pop() interface{} {
	old := q.ops
	n := len(old)
	item := old[n-1]
	q.ops = old[:n-1]
	return item
}

// FdStats reports per-fd write-queue statistics.
type FdStats struct {
	Depth        int
	Peak         int
	BytesWritten uint64
	BytesPending uint64
}

type fdState struct {
	mu      sync.Mutex
	queue   fdQueue
	stats   FdStats
	draining chan struct{}
}

// Queue is the C5 write serializer, owning one fdQueue per open file
// handle.
type Queue struct {
	defaultMaxSize int

	mu   sync.Mutex
	fds  map[uint64]*fdState
	seq  uint64

	shuttingDown bool
}

// New constructs a Queue with the given default max-queue-size per fd
// (0 means unbounded).
func New(defaultMaxSize int) *Queue {
	return &Queue{defaultMaxSize: defaultMaxSize, fds: make(map[uint64]*fdState)}
}

func (q *Queue) stateFor(fd uint64) *fdState {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.fds[fd]
	if !ok {
		st = &fdState{}
		heap.Init(&st.queue)
		q.fds[fd] = st
	}
	return st
}

// Enqueue places a write on fd's queue and returns its assigned
// operation id immediately; the caller awaits completion via
// Op.Wait().
func (q *Queue) Enqueue(fd uint64, offset int64, data []byte, priority fuseops.WritePriority) (*Op, error) {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return nil, ErrShuttingDown
	}
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	st := q.stateFor(fd)

	st.mu.Lock()
	defer st.mu.Unlock()

	if q.defaultMaxSize > 0 && len(st.queue.ops) >= q.defaultMaxSize {
		return nil, ErrQueueFull
	}

	op := &Op{
		ID:       seq,
		Fd:       fd,
		Offset:   offset,
		Data:     data,
		Priority: priority,
		seq:      seq,
		done:     make(chan Completion, 1),
	}

	heap.Push(&st.queue, op)
	st.stats.Depth = len(st.queue.ops)
	st.stats.BytesPending += uint64(len(data))
	if st.stats.Depth > st.stats.Peak {
		st.stats.Peak = st.stats.Depth
	}

	return op, nil
}

// ProcessWriteQueues drains every fd with pending writes by invoking
// executor for the highest-priority, earliest-enqueued op on each fd,
// one at a time, until all queues are empty. Distinct fds are driven
// concurrently; within one fd, ops are strictly ordered by priority
// then FIFO.
func (q *Queue) ProcessWriteQueues(executor Executor) {
	q.mu.Lock()
	fds := make([]*fdState, 0, len(q.fds))
	for _, st := range q.fds {
		fds = append(fds, st)
	}
	q.mu.Unlock()

	var wg sync.WaitGroup
	for _, st := range fds {
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.drainFd(st, executor)
		}()
	}
	wg.Wait()
}

func (q *Queue) drainFd(st *fdState, executor Executor) {
	for {
		st.mu.Lock()
		if len(st.queue.ops) == 0 {
			st.mu.Unlock()
			return
		}
		op := heap.Pop(&st.queue).(*Op)
		st.stats.Depth = len(st.queue.ops)
		st.stats.BytesPending -= uint64(len(op.Data))
		st.mu.Unlock()

		n, err := executor(op)

		st.mu.Lock()
		if err == nil && n >= 0 {
			st.stats.BytesWritten += uint64(n)
		}
		st.mu.Unlock()

		op.done <- Completion{BytesWritten: n, Err: err}
	}
}

// FlushWriteQueue blocks until fd's queue is empty or timeout expires.
func (q *Queue) FlushWriteQueue(fd uint64, timeout time.Duration) bool {
	st := q.stateFor(fd)
	deadline := time.Now().Add(timeout)
	for {
		st.mu.Lock()
		empty := len(st.queue.ops) == 0
		st.mu.Unlock()
		if empty {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// FlushAllWriteQueues is the global variant, used during shutdown.
func (q *Queue) FlushAllWriteQueues(timeout time.Duration) bool {
	q.mu.Lock()
	fds := make([]uint64, 0, len(q.fds))
	for fd := range q.fds {
		fds = append(fds, fd)
	}
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	ok := true
	for _, fd := range fds {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !q.FlushWriteQueue(fd, remaining) {
			ok = false
		}
	}
	return ok
}

// AbandonAll completes every still-queued op across every fd with EIO,
// used when shutdown's timeout expires with writes still pending.
func (q *Queue) AbandonAll() int {
	q.mu.Lock()
	q.shuttingDown = true
	fds := make([]*fdState, 0, len(q.fds))
	for _, st := range q.fds {
		fds = append(fds, st)
	}
	q.mu.Unlock()

	abandoned := 0
	for _, st := range fds {
		st.mu.Lock()
		for st.queue.Len() > 0 {
			op := heap.Pop(&st.queue).(*Op)
			op.done <- Completion{Err: fuseops.NewErrno(fuseops.ErrnoIO, "")}
			abandoned++
		}
		st.stats.Depth = 0
		st.stats.BytesPending = 0
		st.mu.Unlock()
	}
	return abandoned
}

// StatsFor returns fd's current statistics.
func (q *Queue) StatsFor(fd uint64) FdStats {
	st := q.stateFor(fd)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats
}

// AggregateStats sums statistics across every known fd.
func (q *Queue) AggregateStats() FdStats {
	q.mu.Lock()
	fds := make([]*fdState, 0, len(q.fds))
	for _, st := range q.fds {
		fds = append(fds, st)
	}
	q.mu.Unlock()

	var agg FdStats
	for _, st := range fds {
		st.mu.Lock()
		agg.Depth += st.stats.Depth
		if st.stats.Peak > agg.Peak {
			agg.Peak = st.stats.Peak
		}
		agg.BytesWritten += st.stats.BytesWritten
		agg.BytesPending += st.stats.BytesPending
		st.mu.Unlock()
	}
	return agg
}

// ResetStats zeroes every fd's counters.
func (q *Queue) ResetStats() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, st := range q.fds {
		st.mu.Lock()
		st.stats = FdStats{Depth: st.stats.Depth, BytesPending: st.stats.BytesPending}
		st.mu.Unlock()
	}
}

// Forget drops fd's queue state entirely, called once its handle is
// released and it will never be written to again.
func (q *Queue) Forget(fd uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.fds, fd)
}
