// Copyright 2024 Google Inc. All Rights Reserved.
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

package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/fusebridge/fusebridge/internal/config"
)

// TestBindFlagsThenUnmarshal exercises the whole flag-declare ->
// viper-bind -> Unmarshal round trip in one pass, since viper's global
// registry makes cross-test isolation of individual keys brittle.
func TestBindFlagsThenUnmarshal(t *testing.T) {
	fs := pflag.NewFlagSet("fusebridge-mount", pflag.ContinueOnError)
	require.NoError(t, config.BindFlags(fs))

	require.NoError(t, fs.Parse([]string{
		"--mount.mountpoint=/mnt/bridge",
		"--mount.allow-other=true",
		"--mount.max-read=65536",
		"--mount.timeout=5s",
		"--dispatch.max-queue-size=42",
		"--shutdown.total-timeout=15s",
		"--shutdown.drain-timeout-fraction=0.5",
		"--copy.chunk-size-bytes=8192",
		"--logging.format=json",
		"--logging.severity=DEBUG",
	}))

	cfg, err := config.Unmarshal()
	require.NoError(t, err)

	require.Equal(t, "/mnt/bridge", cfg.Mount.Mountpoint)
	require.True(t, cfg.Mount.AllowOther)
	require.EqualValues(t, 65536, cfg.Mount.MaxRead)
	require.Equal(t, 5*time.Second, cfg.Mount.Timeout)
	require.Equal(t, 42, cfg.Dispatch.MaxQueueSize)
	require.Equal(t, 15*time.Second, cfg.Shutdown.TotalTimeout)
	require.InDelta(t, 0.5, cfg.Shutdown.DrainTimeoutFrac, 0.0001)
	require.Equal(t, 8192, cfg.Copy.ChunkSizeBytes)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "DEBUG", cfg.Logging.Severity)
}

func TestBindFlagsDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("fusebridge-mount", pflag.ContinueOnError)
	require.NoError(t, config.BindFlags(fs))
	require.NoError(t, fs.Parse(nil))

	cfg, err := config.Unmarshal()
	require.NoError(t, err)

	require.True(t, cfg.Mount.DefaultPermissions)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, 10, cfg.Logging.BackupFileCount)
}
