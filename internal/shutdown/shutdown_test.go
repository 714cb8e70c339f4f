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

package shutdown_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/internal/shutdown"
)

func TestInitiateGracefulShutdownVisitsEveryPhase(t *testing.T) {
	var drainCalls, unmountCalls int32
	var drainStart, unmountStart, closed int32

	c := shutdown.New(
		shutdown.Callbacks{
			OnDrainStart: func(string) { atomic.AddInt32(&drainStart, 1) },
			OnUnmount:    func(string) { atomic.AddInt32(&unmountStart, 1) },
			OnClosed:     func(string) { atomic.AddInt32(&closed, 1) },
		},
		func(budget time.Duration) int {
			atomic.AddInt32(&drainCalls, 1)
			return 0
		},
		func() error {
			atomic.AddInt32(&unmountCalls, 1)
			return nil
		},
	)

	require.Equal(t, shutdown.Running, c.State())

	stats := c.InitiateGracefulShutdown("test", 100*time.Millisecond)

	require.Equal(t, shutdown.Closed, c.State())
	require.Equal(t, shutdown.Closed, stats.FinalState)
	require.EqualValues(t, 1, atomic.LoadInt32(&drainStart))
	require.EqualValues(t, 1, atomic.LoadInt32(&drainCalls))
	require.EqualValues(t, 1, atomic.LoadInt32(&unmountStart))
	require.EqualValues(t, 1, atomic.LoadInt32(&unmountCalls))
	require.EqualValues(t, 1, atomic.LoadInt32(&closed))
}

func TestForceImmediateShutdownSkipsDraining(t *testing.T) {
	drainCalled := false
	c := shutdown.New(
		shutdown.Callbacks{},
		func(time.Duration) int {
			drainCalled = true
			return 0
		},
		func() error { return nil },
	)

	c.ForceImmediateShutdown("panic")

	require.False(t, drainCalled)
	require.Equal(t, shutdown.Closed, c.State())
}

func TestZeroTimeoutStillReachesClosed(t *testing.T) {
	c := shutdown.New(shutdown.Callbacks{}, func(time.Duration) int { return 0 }, func() error { return nil })
	c.InitiateGracefulShutdown("immediate", 0)
	require.Equal(t, shutdown.Closed, c.State())
}

func TestInitiateGracefulShutdownIsIdempotent(t *testing.T) {
	calls := 0
	c := shutdown.New(shutdown.Callbacks{}, func(time.Duration) int {
		calls++
		return 0
	}, func() error { return nil })

	c.InitiateGracefulShutdown("first", 10*time.Millisecond)
	c.InitiateGracefulShutdown("second", 10*time.Millisecond)

	require.Equal(t, 1, calls)
}

func TestWaitForShutdownCompletion(t *testing.T) {
	c := shutdown.New(shutdown.Callbacks{}, func(time.Duration) int { return 0 }, func() error { return nil })

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.ForceImmediateShutdown("async")
	}()

	require.True(t, c.WaitForShutdownCompletion(time.Second))
}

func TestWaitForShutdownCompletionTimesOut(t *testing.T) {
	c := shutdown.New(shutdown.Callbacks{}, func(time.Duration) int { return 0 }, func() error { return nil })
	require.False(t, c.WaitForShutdownCompletion(10*time.Millisecond))
}

func TestForcedDrainIsRecordedInStats(t *testing.T) {
	c := shutdown.New(shutdown.Callbacks{}, func(time.Duration) int { return 3 }, func() error { return nil })
	stats := c.InitiateGracefulShutdown("busy", 50*time.Millisecond)
	require.Equal(t, 3, stats.ForciblyCompleted)
}
