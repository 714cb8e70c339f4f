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

package writequeue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/writequeue"
)

func TestHigherPriorityDrainsFirst(t *testing.T) {
	q := writequeue.New(0)

	low, err := q.Enqueue(1, 0, []byte("low"), fuseops.WritePriorityLow)
	require.NoError(t, err)
	urgent, err := q.Enqueue(1, 0, []byte("urgent"), fuseops.WritePriorityUrgent)
	require.NoError(t, err)

	var order []*writequeue.Op
	q.ProcessWriteQueues(func(op *writequeue.Op) (int, error) {
		order = append(order, op)
		return len(op.Data), nil
	})

	require.Equal(t, []*writequeue.Op{urgent, low}, order)
}

func TestSamePriorityIsFIFO(t *testing.T) {
	q := writequeue.New(0)

	first, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)
	second, err := q.Enqueue(1, 1, []byte("b"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	var order []*writequeue.Op
	q.ProcessWriteQueues(func(op *writequeue.Op) (int, error) {
		order = append(order, op)
		return len(op.Data), nil
	})

	require.Equal(t, []*writequeue.Op{first, second}, order)
}

func TestDistinctFdsDoNotBlockEachOther(t *testing.T) {
	q := writequeue.New(0)

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	_, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(2, 0, []byte("b"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		q.ProcessWriteQueues(func(op *writequeue.Op) (int, error) {
			started <- struct{}{}
			if op.Fd == 1 {
				<-release
			}
			return len(op.Data), nil
		})
		close(done)
	}()

	<-started
	<-started // both fds' executors entered before either released: no cross-fd blocking
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ProcessWriteQueues did not complete")
	}
}

func TestOpWaitReceivesCompletion(t *testing.T) {
	q := writequeue.New(0)
	op, err := q.Enqueue(1, 0, []byte("hello"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	go q.ProcessWriteQueues(func(op *writequeue.Op) (int, error) {
		return len(op.Data), nil
	})

	completion := op.Wait()
	require.NoError(t, completion.Err)
	require.Equal(t, 5, completion.BytesWritten)
}

func TestEnqueueRejectsOverCapacity(t *testing.T) {
	q := writequeue.New(1)
	_, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(1, 1, []byte("b"), fuseops.WritePriorityNormal)
	require.ErrorIs(t, err, writequeue.ErrQueueFull)
}

func TestFlushWriteQueueWaitsForDrain(t *testing.T) {
	q := writequeue.New(0)
	_, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.ProcessWriteQueues(func(op *writequeue.Op) (int, error) {
			return len(op.Data), nil
		})
	}()

	require.True(t, q.FlushWriteQueue(1, time.Second))
}

func TestFlushWriteQueueTimesOut(t *testing.T) {
	q := writequeue.New(0)
	_, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	require.False(t, q.FlushWriteQueue(1, 10*time.Millisecond))
}

func TestAbandonAllCompletesPendingWritesWithEIO(t *testing.T) {
	q := writequeue.New(0)
	op, err := q.Enqueue(1, 0, []byte("a"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	abandoned := q.AbandonAll()
	require.Equal(t, 1, abandoned)

	completion := op.Wait()
	var errno *fuseops.FuseErrno
	require.ErrorAs(t, completion.Err, &errno)
	require.Equal(t, fuseops.ErrnoIO, errno.Errno)

	_, err = q.Enqueue(2, 0, []byte("b"), fuseops.WritePriorityNormal)
	require.Error(t, err)
}

func TestAggregateStats(t *testing.T) {
	q := writequeue.New(0)
	_, err := q.Enqueue(1, 0, []byte("aaa"), fuseops.WritePriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(2, 0, []byte("bb"), fuseops.WritePriorityNormal)
	require.NoError(t, err)

	agg := q.AggregateStats()
	require.Equal(t, 2, agg.Depth)
	require.EqualValues(t, 5, agg.BytesPending)
}
