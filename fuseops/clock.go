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

package fuseops

import "github.com/jacobsa/timeutil"

// Clock is the dependency every component that stamps a Timestamp takes,
// rather than calling Now() directly, so that tests can substitute
// timeutil.SimulatedClock and assert on exact values (see §3's nanosecond
// round-trip vector).
type Clock = timeutil.Clock

// RealClock returns a Clock backed by the system wall clock.
func RealClock() Clock {
	return timeutil.RealClock()
}

// NowFromClock stamps the clock's current time as a Timestamp.
func NowFromClock(c Clock) Timestamp {
	return Timestamp(c.Now().UnixNano())
}
