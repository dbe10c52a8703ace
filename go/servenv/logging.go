// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modifications Copyright 2026 The Mend Authors

package servenv

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/mendsys/mend/go/tools/telemetry"
	"github.com/mendsys/mend/go/viperutil"
)

// Logger owns the slog configuration for a process: level, format, and
// output destination, all resolved through viperutil.
type Logger struct {
	logLevel  viperutil.Value[string]
	logFormat viperutil.Value[string]
	logOutput viperutil.Value[string]

	telemetry *telemetry.Telemetry

	loggerOnce sync.Once
	loggerMu   sync.Mutex
	logger     *slog.Logger
}

// NewLogger registers the logging keys on the registry. The telemetry may
// be nil; when set, log records are also exported through its OTel bridge.
func NewLogger(reg *viperutil.Registry, tel *telemetry.Telemetry) *Logger {
	return &Logger{
		logLevel: viperutil.Configure(reg, "log-level", viperutil.Options[string]{
			Default:  "info",
			FlagName: "log-level",
			EnvVars:  []string{"MEND_LOG_LEVEL"},
		}),
		logFormat: viperutil.Configure(reg, "log-format", viperutil.Options[string]{
			Default:  "json",
			FlagName: "log-format",
		}),
		logOutput: viperutil.Configure(reg, "log-output", viperutil.Options[string]{
			Default:  "stderr",
			FlagName: "log-output",
		}),
		telemetry: tel,
	}
}

// RegisterFlags registers logging-related command line flags.
func (lg *Logger) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", lg.logLevel.Default(), "Log level (debug, info, warn, error)")
	fs.String("log-format", lg.logFormat.Default(), "Log format (json, text)")
	fs.String("log-output", lg.logOutput.Default(), "Log output (stdout, stderr, or file path)")
	viperutil.BindFlags(fs, lg.logLevel, lg.logFormat, lg.logOutput)
}

// SetupLogging initializes the logger based on the configured flags and
// installs it as the slog default. Call after flags are parsed but before
// any logging occurs; repeat calls are no-ops.
func (lg *Logger) SetupLogging() {
	lg.loggerOnce.Do(func() {
		level := parseLevel(lg.logLevel.Get())

		var output io.Writer
		outputStr := lg.logOutput.Get()
		switch strings.ToLower(outputStr) {
		case "", "stderr":
			output = os.Stderr
		case "stdout":
			output = os.Stdout
		default:
			file, err := os.OpenFile(outputStr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				output = os.Stderr
			} else {
				output = file
			}
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if strings.EqualFold(lg.logFormat.Get(), "text") {
			handler = slog.NewTextHandler(output, opts)
		} else {
			handler = slog.NewJSONHandler(output, opts)
		}
		if lg.telemetry != nil {
			handler = lg.telemetry.WrapSlogHandler(handler)
		}

		newLogger := slog.New(handler)
		slog.SetDefault(newLogger)

		lg.loggerMu.Lock()
		lg.logger = newLogger
		lg.loggerMu.Unlock()

		newLogger.Info("logging initialized",
			"level", level.String(),
			"format", lg.logFormat.Get(),
			"output", outputStr,
		)
	})
}

// GetLogger returns the configured logger instance, or the slog default if
// SetupLogging has not run yet.
func (lg *Logger) GetLogger() *slog.Logger {
	lg.loggerMu.Lock()
	defer lg.loggerMu.Unlock()
	if lg.logger == nil {
		return slog.Default()
	}
	return lg.logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
