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

// Command fusebridge-mount mounts the in-memory reference file system
// (package memfs) through the bridge, matching gcsfuse's
// cmd/legacy_main.go root-command-plus-cfg.BindFlags shape.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fuse "github.com/fusebridge/fusebridge"
	"github.com/fusebridge/fusebridge/internal/config"
	"github.com/fusebridge/fusebridge/internal/logger"
	"github.com/fusebridge/fusebridge/internal/memfs"
)

const inBackgroundModeEnv = "FUSEBRIDGE_IN_BACKGROUND_MODE"

var (
	cfgFile string
	bindErr error
)

var rootCmd = &cobra.Command{
	Use:   "fusebridge-mount [flags] mount_point",
	Short: "Mount the in-memory reference file system through the FUSE bridge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		return run(args[0])
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().Bool("foreground", true, "Stay attached to the terminal instead of daemonizing.")
	bindErr = config.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		bindErr = fmt.Errorf("reading config file: %w", err)
	}
}

func run(mountPointArg string) error {
	cfg, err := config.Unmarshal()
	if err != nil {
		return fmt.Errorf("config.Unmarshal: %w", err)
	}

	mountPoint, err := filepath.Abs(mountPointArg)
	if err != nil {
		return fmt.Errorf("resolving mount point: %w", err)
	}
	cfg.Mount.Mountpoint = mountPoint

	if err := logger.Init(logger.Config{
		Format:   cfg.Logging.Format,
		Severity: cfg.Logging.Severity,
		FilePath: cfg.Logging.FilePath,
		Rotate: logger.RotateConfig{
			MaxFileSizeMB:   cfg.Logging.MaxFileSizeMB,
			BackupFileCount: cfg.Logging.BackupFileCount,
			Compress:        cfg.Logging.Compress,
		},
	}); err != nil {
		return fmt.Errorf("logger.Init: %w", err)
	}

	foreground, _ := rootCmd.PersistentFlags().GetBool("foreground")
	if !foreground && os.Getenv(inBackgroundModeEnv) == "" {
		return daemonizeSelf(mountPoint)
	}

	runID := uuid.New().String()
	logger.Infof("fusebridge-mount[%s]: mounting %s", runID, mountPoint)

	handler := memfs.NewMemFS(timeutil.RealClock())
	mc := &fuse.MountConfig{
		AllowOther:         cfg.Mount.AllowOther,
		AllowRoot:          cfg.Mount.AllowRoot,
		AutoUnmount:        cfg.Mount.AutoUnmount,
		DefaultPermissions: cfg.Mount.DefaultPermissions,
		Options:            cfg.Mount.Options,
		Debug:              cfg.Mount.Debug,
		SingleThreaded:     cfg.Mount.SingleThreaded,
		MaxRead:            cfg.Mount.MaxRead,
		MaxWrite:           cfg.Mount.MaxWrite,
		Timeout:            cfg.Mount.Timeout,
		MaxQueueSize:       cfg.Dispatch.MaxQueueSize,
		ShutdownTimeout:    cfg.Shutdown.TotalTimeout,
		MaxWriteQueueSize:  cfg.Write.DefaultMaxQueueSize,
		CopyChunkSizeBytes: cfg.Copy.ChunkSizeBytes,
	}

	session, err := fuse.Mount(context.Background(), mountPoint, handler, mc)
	if !foreground {
		if err != nil {
			_ = daemonize.SignalOutcome(err)
		} else {
			_ = daemonize.SignalOutcome(nil)
		}
	}
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	logger.Infof("fusebridge-mount[%s]: mounted, waiting for unmount", runID)
	return session.Join(context.Background())
}

// daemonizeSelf re-execs the current binary in the background with
// FUSEBRIDGE_IN_BACKGROUND_MODE set, mirroring gcsfuse's daemonize.Run
// call in cmd/legacy_main.go.
func daemonizeSelf(mountPoint string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	args := append([]string(nil), os.Args[1:]...)
	env := append(os.Environ(), inBackgroundModeEnv+"=true")

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof("fusebridge-mount: successfully mounted %s in the background", mountPoint)
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
