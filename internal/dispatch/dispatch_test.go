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

package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/fuseops"
	"github.com/fusebridge/fusebridge/internal/dispatch"
)

func TestEnqueueRunsRegisteredHandler(t *testing.T) {
	d := dispatch.New(10)
	require.NoError(t, d.SetOperationHandler("lookup", func(ctx context.Context, arg interface{}) (interface{}, error) {
		return "ok", nil
	}))
	d.Initialize()

	resultCh, err := d.Enqueue(context.Background(), "lookup", nil)
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.NoError(t, res.Err)
		require.Equal(t, "ok", res.Reply)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestEnqueueUnknownOperationReturnsENOSYS(t *testing.T) {
	d := dispatch.New(10)
	d.Initialize()

	resultCh, err := d.Enqueue(context.Background(), "getxattr", nil)
	require.NoError(t, err)

	res := <-resultCh
	var errno *fuseops.FuseErrno
	require.ErrorAs(t, res.Err, &errno)
	require.Equal(t, fuseops.ErrnoNoSys, errno.Errno)
}

func TestSetOperationHandlerRejectsUnknownName(t *testing.T) {
	d := dispatch.New(10)
	err := d.SetOperationHandler("not_a_real_op", func(context.Context, interface{}) (interface{}, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, dispatch.ErrUnknownOperation)
}

func TestEnqueueAfterShutdownReturnsErrShuttingDown(t *testing.T) {
	d := dispatch.New(10)
	d.Initialize()
	d.Shutdown(time.Second)

	_, err := d.Enqueue(context.Background(), "lookup", nil)
	require.ErrorIs(t, err, dispatch.ErrShuttingDown)
}

func TestQueueFullReturnsErrQueueFull(t *testing.T) {
	d := dispatch.New(1)
	block := make(chan struct{})
	require.NoError(t, d.SetOperationHandler("read", func(ctx context.Context, arg interface{}) (interface{}, error) {
		<-block
		return nil, nil
	}))
	// Do not call Initialize: nothing drains the channel, so the bounded
	// queue fills up deterministically after maxQueueSize entries.
	_, err := d.Enqueue(context.Background(), "read", nil)
	require.NoError(t, err)
	_, err = d.Enqueue(context.Background(), "read", nil)
	require.ErrorIs(t, err, dispatch.ErrQueueFull)
	close(block)
}

func TestDispatchDoesNotBlockOnSlowHandler(t *testing.T) {
	d := dispatch.New(10)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, d.SetOperationHandler("read", func(ctx context.Context, arg interface{}) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	}))
	require.NoError(t, d.SetOperationHandler("write", func(ctx context.Context, arg interface{}) (interface{}, error) {
		return "fast", nil
	}))
	d.Initialize()

	_, err := d.Enqueue(context.Background(), "read", nil)
	require.NoError(t, err)

	<-started

	resultCh, err := d.Enqueue(context.Background(), "write", nil)
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.Equal(t, "fast", res.Reply)
	case <-time.After(time.Second):
		t.Fatal("second request was blocked behind the first handler")
	}

	close(release)
}

func TestStatsTrackDepthAndCompletions(t *testing.T) {
	d := dispatch.New(10)
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, d.SetOperationHandler("fsync", func(ctx context.Context, arg interface{}) (interface{}, error) {
		defer wg.Done()
		return nil, nil
	}))
	d.Initialize()

	resultCh, err := d.Enqueue(context.Background(), "fsync", nil)
	require.NoError(t, err)
	<-resultCh
	wg.Wait()

	stats := d.Stats()
	require.Equal(t, uint64(1), stats.EnqueueCount)
	require.Equal(t, uint64(1), stats.CompletionCount)
	require.Equal(t, uint64(1), stats.PerOpcode["fsync"])
}

func TestPanicInHandlerIsRecoveredAsEIO(t *testing.T) {
	d := dispatch.New(10)
	require.NoError(t, d.SetOperationHandler("mkdir", func(ctx context.Context, arg interface{}) (interface{}, error) {
		panic("boom")
	}))
	d.Initialize()

	resultCh, err := d.Enqueue(context.Background(), "mkdir", nil)
	require.NoError(t, err)

	res := <-resultCh
	var errno *fuseops.FuseErrno
	require.ErrorAs(t, res.Err, &errno)
	require.Equal(t, fuseops.ErrnoIO, errno.Errno)
}
