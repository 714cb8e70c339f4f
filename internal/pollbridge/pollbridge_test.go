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

package pollbridge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/internal/pollbridge"
)

func TestNotifyUnknownKeyReturnsFalse(t *testing.T) {
	b := pollbridge.New(nil)
	require.False(t, b.NotifyPollHandle(42, false))
}

func TestRegisterThenNotifySucceeds(t *testing.T) {
	var notified []uint64
	b := pollbridge.New(func(key uint64, urgent bool) error {
		notified = append(notified, key)
		return nil
	})

	b.Register(7)
	require.True(t, b.NotifyPollHandle(7, true))
	require.Equal(t, []uint64{7}, notified)
}

func TestDestroyIsIdempotent(t *testing.T) {
	b := pollbridge.New(nil)
	b.Register(1)

	require.True(t, b.DestroyPollHandle(1))
	require.False(t, b.DestroyPollHandle(1))
}

func TestRefCountedRegisterRequiresMatchingDestroys(t *testing.T) {
	b := pollbridge.New(nil)
	b.Register(1)
	b.Register(1)

	require.True(t, b.DestroyPollHandle(1))
	require.Equal(t, 1, b.Len())
	require.True(t, b.NotifyPollHandle(1, false))

	require.True(t, b.DestroyPollHandle(1))
	require.Equal(t, 0, b.Len())
	require.False(t, b.NotifyPollHandle(1, false))
}

func TestDestroyAllClearsEveryHandle(t *testing.T) {
	b := pollbridge.New(nil)
	b.Register(1)
	b.Register(2)
	b.Register(2)

	b.DestroyAll()

	require.Equal(t, 0, b.Len())
	require.False(t, b.NotifyPollHandle(1, false))
	require.False(t, b.NotifyPollHandle(2, false))
}
