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

// Package config binds the bridge's CLI flags to a typed Config
// struct, following gcsfuse's cfg.BindFlags(*pflag.FlagSet) shape:
// every flag is declared once, bound into viper under a dotted key,
// and later read back into Config by Unmarshal.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one bridge process.
type Config struct {
	Mount   MountConfig   `mapstructure:"mount"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Write   WriteConfig   `mapstructure:"write"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Copy    CopyConfig    `mapstructure:"copy"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MountConfig covers the mount option surface named in the component
// design (§4.6): allowOther, allowRoot, autoUnmount, defaultPermissions,
// mountOptions[], debug, singleThreaded, maxRead, maxWrite, timeout.
type MountConfig struct {
	Mountpoint         string        `mapstructure:"mountpoint"`
	AllowOther         bool          `mapstructure:"allow-other"`
	AllowRoot          bool          `mapstructure:"allow-root"`
	AutoUnmount        bool          `mapstructure:"auto-unmount"`
	DefaultPermissions bool          `mapstructure:"default-permissions"`
	Options            []string      `mapstructure:"options"`
	Debug              bool          `mapstructure:"debug"`
	SingleThreaded     bool          `mapstructure:"single-threaded"`
	MaxRead            uint32        `mapstructure:"max-read"`
	MaxWrite           uint32        `mapstructure:"max-write"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// DispatchConfig tunes the C3 dispatcher's bounded queue.
type DispatchConfig struct {
	MaxQueueSize int `mapstructure:"max-queue-size"`
}

// WriteConfig tunes the C5 write serializer's queue sizes.
type WriteConfig struct {
	DefaultMaxQueueSize int `mapstructure:"default-max-queue-size"`
	PerFdMaxQueueSize   int `mapstructure:"per-fd-max-queue-size"`
}

// ShutdownConfig tunes the C7 coordinator's timeout split.
type ShutdownConfig struct {
	TotalTimeout     time.Duration `mapstructure:"total-timeout"`
	DrainTimeoutFrac float64       `mapstructure:"drain-timeout-fraction"`
}

// CopyConfig tunes the C9 copy-range adapter's fallback chunk size.
type CopyConfig struct {
	ChunkSizeBytes int `mapstructure:"chunk-size-bytes"`
}

// LoggingConfig matches internal/logger.Config's knobs.
type LoggingConfig struct {
	Format          string `mapstructure:"format"`
	Severity        string `mapstructure:"severity"`
	FilePath        string `mapstructure:"file-path"`
	MaxFileSizeMB   int    `mapstructure:"max-file-size-mb"`
	BackupFileCount int    `mapstructure:"backup-file-count"`
	Compress        bool   `mapstructure:"compress"`
}

// BindFlags declares every flag on flagSet and binds it into viper
// under its dotted key, mirroring gcsfuse's generated cfg.BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string) error { return viper.BindPFlag(key, flagSet.Lookup(key)) }

	flagSet.String("mount.mountpoint", "", "Directory to mount the file system on.")
	if err := bind("mount.mountpoint"); err != nil {
		return err
	}

	flagSet.Bool("mount.allow-other", false, "Allow users other than the mount owner to access the file system.")
	if err := bind("mount.allow-other"); err != nil {
		return err
	}

	flagSet.Bool("mount.allow-root", false, "Allow root to access the file system even without allow-other.")
	if err := bind("mount.allow-root"); err != nil {
		return err
	}

	flagSet.Bool("mount.auto-unmount", false, "Unmount on SIGINT/SIGTERM, best-effort.")
	if err := bind("mount.auto-unmount"); err != nil {
		return err
	}

	flagSet.Bool("mount.default-permissions", true, "Let the kernel enforce permission bits.")
	if err := bind("mount.default-permissions"); err != nil {
		return err
	}

	flagSet.StringSlice("mount.options", nil, "Additional raw mount options, passed through uninterpreted.")
	if err := bind("mount.options"); err != nil {
		return err
	}

	flagSet.Bool("mount.debug", false, "Enable the session's debug log lines.")
	if err := bind("mount.debug"); err != nil {
		return err
	}

	flagSet.Bool("mount.single-threaded", false, "Carried into the mount config; dispatch does not consult it.")
	if err := bind("mount.single-threaded"); err != nil {
		return err
	}

	flagSet.Uint32("mount.max-read", 0, "Cap on kernel read size; 0 defers to the host FUSE library default.")
	if err := bind("mount.max-read"); err != nil {
		return err
	}

	flagSet.Uint32("mount.max-write", 0, "Cap on kernel write size; 0 defers to the host FUSE library default.")
	if err := bind("mount.max-write"); err != nil {
		return err
	}

	flagSet.Duration("mount.timeout", 30*time.Second, "How long Mount waits for the init handshake.")
	if err := bind("mount.timeout"); err != nil {
		return err
	}

	flagSet.Int("dispatch.max-queue-size", 1000, "Bounded capacity of the dispatcher's request queue.")
	if err := bind("dispatch.max-queue-size"); err != nil {
		return err
	}

	flagSet.Int("write.default-max-queue-size", 256, "Default per-fd write queue capacity.")
	if err := bind("write.default-max-queue-size"); err != nil {
		return err
	}

	flagSet.Int("write.per-fd-max-queue-size", 0, "Override for a specific fd's write queue capacity; 0 uses the default.")
	if err := bind("write.per-fd-max-queue-size"); err != nil {
		return err
	}

	flagSet.Duration("shutdown.total-timeout", 10*time.Second, "Total budget for a graceful shutdown.")
	if err := bind("shutdown.total-timeout"); err != nil {
		return err
	}

	flagSet.Float64("shutdown.drain-timeout-fraction", 0.7, "Fraction of the shutdown budget spent Draining before Unmounting.")
	if err := bind("shutdown.drain-timeout-fraction"); err != nil {
		return err
	}

	flagSet.Int("copy.chunk-size-bytes", 1<<20, "Chunk size for the copy_file_range read/write fallback loop.")
	if err := bind("copy.chunk-size-bytes"); err != nil {
		return err
	}

	flagSet.String("logging.format", "text", "Log output format: text or json.")
	if err := bind("logging.format"); err != nil {
		return err
	}

	flagSet.String("logging.severity", "INFO", "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := bind("logging.severity"); err != nil {
		return err
	}

	flagSet.String("logging.file-path", "", "Log file path; empty logs to stderr.")
	if err := bind("logging.file-path"); err != nil {
		return err
	}

	flagSet.Int("logging.max-file-size-mb", 512, "Rotate the log file once it exceeds this size.")
	if err := bind("logging.max-file-size-mb"); err != nil {
		return err
	}

	flagSet.Int("logging.backup-file-count", 10, "Number of rotated log files to retain.")
	if err := bind("logging.backup-file-count"); err != nil {
		return err
	}

	flagSet.Bool("logging.compress", false, "Gzip rotated log files.")
	if err := bind("logging.compress"); err != nil {
		return err
	}

	return nil
}

// Unmarshal reads viper's merged configuration (flags, env, config
// file) into a Config value.
func Unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
