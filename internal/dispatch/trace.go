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

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jacobsa/reqtrace"
	"golang.org/x/sys/unix"

	"github.com/fusebridge/fusebridge/internal/logger"
)

// PIDOf, when set via EnableTraceByPID, extracts the calling process's
// PID from a dispatched arg so requests sharing a PID can be correlated
// under one reqtrace span, matching the teacher's
// commonOp.maybeTraceByPID opt-in (fuseops/common_op.go). Off by
// default per the component design's "opt-in dispatcher feature".
type PIDOf func(arg interface{}) (pid int, ok bool)

var pidTraceMu sync.Mutex
var pidTraceMap = make(map[int]context.Context) // GUARDED_BY(pidTraceMu)

// EnableTraceByPID turns on per-PID request correlation. Call once
// before Initialize.
func (d *Dispatcher) EnableTraceByPID(pidOf PIDOf) {
	d.pidOf = pidOf
}

func (d *Dispatcher) traceContext(ctx context.Context, arg interface{}) context.Context {
	if d.pidOf == nil || !reqtrace.Enabled() {
		return ctx
	}

	pid, ok := d.pidOf(arg)
	if !ok {
		return ctx
	}

	pidTraceMu.Lock()
	defer pidTraceMu.Unlock()

	if existing, ok := pidTraceMap[pid]; ok {
		return existing
	}

	traced, report := reqtrace.Trace(ctx, fmt.Sprintf("PID %v", pid))
	pidTraceMap[pid] = traced
	go reportWhenPIDGone(pid, report)
	return traced
}

// reportWhenPIDGone polls for the traced process's exit exactly like
// the teacher's reportWhenPIDGone, then closes the span and frees the
// map entry.
func reportWhenPIDGone(pid int, report reqtrace.ReportFunc) {
	const pollPeriod = 50 * time.Millisecond
	for {
		err := unix.Kill(pid, 0)
		if err == unix.ESRCH {
			break
		}
		if err == unix.EPERM {
			logger.Warnf("dispatch: failed to poll PID %v for trace teardown: no permission", pid)
			return
		}
		if err != nil {
			logger.Errorf("dispatch: unexpected error polling PID %v: %v", pid, err)
			return
		}
		time.Sleep(pollPeriod)
	}

	report(nil)

	pidTraceMu.Lock()
	delete(pidTraceMap, pid)
	pidTraceMu.Unlock()
}
