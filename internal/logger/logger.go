// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the bridge's structured, leveled logging: a
// closed set of severities below and above slog's own, text or JSON
// output, and optional file-backed rotation via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names recognized in the logging.severity config value; this
// package reads no environment variable for them.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// The five in-use slog levels plus a sentinel above Error that
// silences everything, matching TRACE/DEBUG/INFO/WARNING/ERROR/OFF.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: TRACE,
	LevelDebug: DEBUG,
	LevelInfo:  INFO,
	LevelWarn:  WARNING,
	LevelError: ERROR,
}

// RotateConfig mirrors the lumberjack knobs the bridge exposes through
// internal/config.
type RotateConfig struct {
	MaxFileSizeMB  int
	BackupFileCount int
	Compress        bool
}

// DefaultRotateConfig returns the bridge's rotation defaults (512 MB,
// 10 backups, no compression), the values internal/config's logging
// flags default to.
func DefaultRotateConfig() RotateConfig {
	return RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// Config is what internal/config binds and passes to Init.
type Config struct {
	Format   string // "text" or "json"
	Severity string // one of the severity constants above
	FilePath string // empty means stderr
	Rotate   RotateConfig
}

type loggerFactory struct {
	file     *lumberjack.Logger
	sysWriter io.Writer
	format    string
	level     string
	rotate    RotateConfig
}

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{sysWriter: os.Stderr, format: "text", level: INFO}
	defaultLogger        = slog.New(defaultLoggerFactory.createHandler(os.Stderr, programLevel, ""))
)

func (f *loggerFactory) createHandler(w io.Writer, lvl *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.LevelKey {
			level := a.Value.Any().(slog.Level)
			name, ok := levelNames[level]
			if !ok {
				name = level.String()
			}
			a.Key = "severity"
			a.Value = slog.StringValue(name)
		}
		if a.Key == slog.MessageKey && prefix != "" {
			a.Value = slog.StringValue(prefix + a.Value.String())
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: replace}

	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func setLoggingLevel(level string, v *slog.LevelVar) {
	switch level {
	case TRACE:
		v.Set(LevelTrace)
	case DEBUG:
		v.Set(LevelDebug)
	case INFO:
		v.Set(LevelInfo)
	case WARNING:
		v.Set(LevelWarn)
	case ERROR:
		v.Set(LevelError)
	case OFF:
		v.Set(LevelOff)
	default:
		v.Set(LevelInfo)
	}
}

// Init (re)configures the package-level logger from cfg. Call once at
// startup, after flags/config are parsed.
func Init(cfg Config) error {
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity
	defaultLoggerFactory.rotate = cfg.Rotate

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    valueOr(cfg.Rotate.MaxFileSizeMB, 512),
			MaxBackups: cfg.Rotate.BackupFileCount,
			Compress:   cfg.Rotate.Compress,
		}
		defaultLoggerFactory.file = lj
		w = lj
	} else {
		defaultLoggerFactory.sysWriter = os.Stderr
	}

	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w, programLevel, ""))
	return nil
}

func valueOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// SetFormat switches the output format ("text" or "json") without
// otherwise disturbing the current configuration.
func SetFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(w, programLevel, ""))
}

func log(ctx context.Context, level slog.Level, format string, args ...interface{}) {
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	defaultLogger.Log(ctx, level, msg)
}

func Tracef(format string, args ...interface{}) { log(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...interface{}) { log(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...interface{})  { log(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...interface{})  { log(context.Background(), LevelWarn, format, args...) }
func Errorf(format string, args ...interface{}) { log(context.Background(), LevelError, format, args...) }

// Now exists so components that want a logged timestamp distinct from
// the record's own can stamp one without importing time directly.
func Now() time.Time { return time.Now() }
