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

package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/internal/adapter"
)

func TestFlockTypeRoundTripsLinuxWireConstants(t *testing.T) {
	cases := []struct {
		wire                uint32
		exclusive, unlock bool
	}{
		{wire: 0, exclusive: false, unlock: false},
		{wire: 1, exclusive: true, unlock: false},
		{wire: 2, exclusive: false, unlock: true},
	}

	for _, c := range cases {
		exclusive, unlock := adapter.DecodeFlockType(c.wire)
		require.Equal(t, c.exclusive, exclusive)
		require.Equal(t, c.unlock, unlock)
		require.Equal(t, c.wire, adapter.EncodeFlockType(exclusive, unlock))
	}
}

func TestDecodeFlockTypeUnknownDefaultsToShared(t *testing.T) {
	exclusive, unlock := adapter.DecodeFlockType(99)
	require.False(t, exclusive)
	require.False(t, unlock)
}
