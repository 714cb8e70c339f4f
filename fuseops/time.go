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

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp is signed 64-bit nanoseconds since the Unix epoch. It is the
// bridge's canonical time representation; every atime/mtime/ctime field on
// Stat round-trips through it losslessly.
type Timestamp int64

// farFutureSentinel bounds what Validate will accept, guarding against a
// handler accidentally handing back a value that overflowed during
// multiplication (e.g. seconds mistaken for nanoseconds). Chosen well
// beyond any plausible file timestamp: year 2262 is when int64 ns since
// epoch itself saturates, so this catches the "off by 10^9" class of bug
// long before that.
const farFutureSentinel = Timestamp(4102444800 * int64(time.Second)) // 2100-01-01

// Timespec is the {seconds, nanoseconds} decomposition of a Timestamp, with
// the FUSE/POSIX invariant that Nanoseconds is always in [0, 1e9).
type Timespec struct {
	Seconds     int64
	Nanoseconds uint32
}

// ErrInvalidTime is returned by ToNs and Validate for malformed or
// out-of-range input. It is never silently swallowed into a zero value.
type ErrInvalidTime struct {
	Input interface{}
	Why   string
}

func (e *ErrInvalidTime) Error() string {
	return fmt.Sprintf("invalid time %#v: %s", e.Input, e.Why)
}

// ToTimespec decomposes ns into seconds and a nanosecond remainder in
// [0, 1e9), including for negative ns (floor division, not truncation).
func ToTimespec(ns Timestamp) Timespec {
	const billion = int64(1e9)
	n := int64(ns)
	sec := n / billion
	rem := n % billion
	if rem < 0 {
		rem += billion
		sec--
	}
	return Timespec{Seconds: sec, Nanoseconds: uint32(rem)}
}

// FromTimespec is the inverse of ToTimespec.
func FromTimespec(ts Timespec) Timestamp {
	return Timestamp(ts.Seconds*int64(1e9) + int64(ts.Nanoseconds))
}

// ToNs converts a variety of input shapes into a Timestamp:
//
//   - int64/uint64: treated as nanoseconds directly
//   - int: a millisecond integer, distinguished from seconds by magnitude. Values
//     >= 1e12 are treated as milliseconds (a seconds count that size would be
//     year ~33658); anything smaller is treated as seconds.
//   - float64: floating-point seconds (fractional part preserved to ns)
//   - Timespec or a {sec, nsec}/{seconds, nanoseconds} pair: combined exactly
//   - string: RFC 3339 ("2006-01-02T15:04:05Z"), or "sec.nsec" where the
//     fractional part is zero-padded or truncated to exactly 9 digits
//
// Any input that does not match one of the above, or that decodes to a
// value failing Validate, returns ErrInvalidTime. ToNs never silently
// produces a lossy result.
func ToNs(input interface{}) (Timestamp, error) {
	switch v := input.(type) {
	case Timestamp:
		return v, validateOrErr(v, input)
	case int64:
		return validateOrErr(Timestamp(v), input)
	case uint64:
		if v > math.MaxInt64 {
			return 0, &ErrInvalidTime{input, "overflows int64 nanoseconds"}
		}
		return validateOrErr(Timestamp(v), input)
	case int:
		return fromIntegerMagnitude(int64(v), input)
	case float64:
		ns := Timestamp(math.Round(v * 1e9))
		return ns, validateOrErr(ns, input)
	case Timespec:
		return validateOrErr(FromTimespec(v), input)
	case map[string]int64:
		if sec, ok := v["sec"]; ok {
			return validateOrErr(FromTimespec(Timespec{Seconds: sec, Nanoseconds: uint32(v["nsec"])}), input)
		}
		if sec, ok := v["seconds"]; ok {
			return validateOrErr(FromTimespec(Timespec{Seconds: sec, Nanoseconds: uint32(v["nanoseconds"])}), input)
		}
		return 0, &ErrInvalidTime{input, "map missing sec/seconds key"}
	case string:
		return parseTimeString(v)
	default:
		return 0, &ErrInvalidTime{input, fmt.Sprintf("unsupported type %T", input)}
	}
}

// fromIntegerMagnitude applies the millisecond-vs-second heuristic to a
// plain int: values whose magnitude indicates milliseconds (>= 1e12, i.e.
// roughly the year 33658 if read as seconds) are scaled accordingly;
// smaller values are seconds. Nanosecond counts go through ToNs as int64,
// uint64 or Timestamp, which bypass this heuristic.
func fromIntegerMagnitude(v int64, original interface{}) (Timestamp, error) {
	const msThreshold = int64(1e12)
	switch {
	case v >= msThreshold:
		return validateOrErr(Timestamp(v)*1_000_000, original)
	default:
		return validateOrErr(Timestamp(v)*1_000_000_000, original)
	}
}

func parseTimeString(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return validateOrErr(Timestamp(t.UnixNano()), s)
	}

	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		secPart := s[:dot]
		fracPart := s[dot+1:]
		sec, err := strconv.ParseInt(secPart, 10, 64)
		if err != nil {
			return 0, &ErrInvalidTime{s, "malformed seconds component"}
		}

		// Pad or truncate the fractional part to exactly 9 digits.
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		} else {
			fracPart += strings.Repeat("0", 9-len(fracPart))
		}

		nsec, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, &ErrInvalidTime{s, "malformed fractional component"}
		}

		return validateOrErr(FromTimespec(Timespec{Seconds: sec, Nanoseconds: uint32(nsec)}), s)
	}

	return 0, &ErrInvalidTime{s, "not RFC3339 and no fractional separator"}
}

func validateOrErr(ts Timestamp, original interface{}) (Timestamp, error) {
	if err := Validate(ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// Validate rejects negative timestamps and anything past the far-future
// sentinel.
func Validate(ts Timestamp) error {
	if ts < 0 {
		return &ErrInvalidTime{ts, "negative timestamp"}
	}
	if ts > farFutureSentinel {
		return &ErrInvalidTime{ts, "beyond far-future sentinel"}
	}
	return nil
}

// Add returns ts + d.
func Add(ts Timestamp, d time.Duration) Timestamp {
	return ts + Timestamp(d.Nanoseconds())
}

// Diff returns a - b as a time.Duration, saturating rather than overflowing
// if the difference exceeds what a Duration can represent.
func Diff(a, b Timestamp) time.Duration {
	delta := int64(a) - int64(b)
	switch {
	case b > 0 && delta > int64(a):
		return time.Duration(math.MinInt64)
	case b < 0 && delta < int64(a):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delta)
}

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Timestamp) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// RoundUnit names the precision milestones Round supports.
type RoundUnit int

const (
	RoundSecond RoundUnit = iota
	RoundMillisecond
	RoundMicrosecond
	RoundNanosecond
)

// Round truncates ts to the given precision, always rounding toward zero
// (floor for positive timestamps, which is all that ever reaches here after
// Validate).
func Round(ts Timestamp, unit RoundUnit) Timestamp {
	var grain int64
	switch unit {
	case RoundSecond:
		grain = 1_000_000_000
	case RoundMillisecond:
		grain = 1_000_000
	case RoundMicrosecond:
		grain = 1_000
	case RoundNanosecond:
		grain = 1
	default:
		grain = 1
	}
	v := int64(ts)
	return Timestamp(v - v%grain)
}

// Now returns the current wall-clock time as a Timestamp. Components that
// need a fake clock for deterministic tests should take a Clock (see
// clock.go) instead of calling this directly.
func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}
