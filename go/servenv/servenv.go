// Copyright 2023 The Vitess Authors.
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

// Package servenv carries the process-level plumbing every mend daemon
// needs: flag and config wiring, structured logging, telemetry, signal
// handling with a lameduck period, and the HTTP and gRPC servers.
package servenv

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mendsys/mend/go/tools/event"
	"github.com/mendsys/mend/go/tools/telemetry"
	"github.com/mendsys/mend/go/viperutil"
)

// ServEnv holds the service environment configuration and state.
// Each daemon builds exactly one ServEnv; nothing here is package-global,
// so tests can construct as many as they need.
type ServEnv struct {
	reg *viperutil.Registry

	httpPort       viperutil.Value[int]
	bindAddress    viperutil.Value[string]
	lameduckPeriod viperutil.Value[time.Duration]
	onTermTimeout  viperutil.Value[time.Duration]
	onCloseTimeout viperutil.Value[time.Duration]
	pidFile        viperutil.Value[string]
	httpPprof      viperutil.Value[bool]
	configPath     viperutil.Value[string]
	maxStackSize   int

	onInitHooks     event.Hooks
	onTermHooks     event.Hooks
	onTermSyncHooks event.Hooks
	onRunHooks      event.Hooks
	onRunEHooks     event.ErrorHooks
	onCloseHooks    event.Hooks

	mu            sync.Mutex
	inited        bool
	initStartTime time.Time

	mux *http.ServeMux
	// exitChan waits for a signal that tells the process to terminate.
	exitChan  chan os.Signal
	lg        *Logger
	telemetry *telemetry.Telemetry
}

// NewServEnv creates a new ServEnv instance with the given registry.
func NewServEnv(reg *viperutil.Registry) *ServEnv {
	tel := telemetry.NewTelemetry()
	return NewServEnvWithLogger(reg, NewLogger(reg, tel), tel)
}

// NewServEnvWithLogger creates a ServEnv around an externally built logger
// and telemetry, so several components can share one of each without
// duplicate flag registrations.
func NewServEnvWithLogger(reg *viperutil.Registry, lg *Logger, tel *telemetry.Telemetry) *ServEnv {
	se := &ServEnv{
		reg: reg,
		httpPort: viperutil.Configure(reg, "http-port", viperutil.Options[int]{
			Default:  0,
			FlagName: "http-port",
		}),
		bindAddress: viperutil.Configure(reg, "bind-address", viperutil.Options[string]{
			Default:  "",
			FlagName: "bind-address",
		}),
		lameduckPeriod: viperutil.Configure(reg, "lameduck-period", viperutil.Options[time.Duration]{
			Default:  50 * time.Millisecond,
			FlagName: "lameduck-period",
		}),
		onTermTimeout: viperutil.Configure(reg, "onterm-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onterm-timeout",
		}),
		onCloseTimeout: viperutil.Configure(reg, "onclose-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "onclose-timeout",
		}),
		pidFile: viperutil.Configure(reg, "pid-file", viperutil.Options[string]{
			Default:  "",
			FlagName: "pid-file",
		}),
		httpPprof: viperutil.Configure(reg, "pprof-http", viperutil.Options[bool]{
			Default:  false,
			FlagName: "pprof-http",
		}),
		configPath: viperutil.Configure(reg, "config-path", viperutil.Options[string]{
			Default:  "",
			FlagName: "config-path",
			EnvVars:  []string{"MEND_CONFIG_PATH"},
		}),
		maxStackSize: 64 * 1024 * 1024,
		mux:          http.NewServeMux(),
		lg:           lg,
		telemetry:    tel,
		exitChan:     make(chan os.Signal, 1),
	}
	se.registerPidFile()
	return se
}

// RegisterFlags registers the servenv flags, including logging, on fs.
func (se *ServEnv) RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("http-port", se.httpPort.Default(), "HTTP port for the server. If zero, do not listen.")
	fs.String("bind-address", se.bindAddress.Default(), "Bind address for the server. If empty, the server listens on all addresses.")
	fs.Duration("lameduck-period", se.lameduckPeriod.Default(), "keep running at least this long after SIGTERM before stopping")
	fs.Duration("onterm-timeout", se.onTermTimeout.Default(), "wait no more than this for OnTermSync handlers before stopping")
	fs.Duration("onclose-timeout", se.onCloseTimeout.Default(), "wait no more than this for OnClose handlers before stopping")
	fs.String("pid-file", se.pidFile.Default(), "If set, the process writes its pid to the named file and deletes it on graceful shutdown.")
	fs.Bool("pprof-http", se.httpPprof.Default(), "enable pprof http endpoints")
	fs.String("config-path", se.configPath.Default(), "Path to a YAML config file. If empty, run on flags and environment alone.")

	viperutil.BindFlags(fs,
		se.httpPort,
		se.bindAddress,
		se.lameduckPeriod,
		se.onTermTimeout,
		se.onCloseTimeout,
		se.pidFile,
		se.httpPprof,
		se.configPath,
	)

	se.lg.RegisterFlags(fs)
}

// CobraPreRunE loads the config file and sets up logging. It matches the
// signature of cobra's PersistentPreRunE.
func (se *ServEnv) CobraPreRunE(cmd *cobra.Command, args []string) error {
	if err := se.reg.LoadConfigFile(se.configPath.Get()); err != nil {
		return fmt.Errorf("%s: failed to read in config: %w", cmd.Name(), err)
	}
	se.lg.SetupLogging()
	return nil
}

// Init is the first phase of server startup, after flags are parsed and
// before Run. It fires the OnInit hooks.
func (se *ServEnv) Init() {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.inited {
		slog.Error("servenv.Init called a second time")
		os.Exit(1)
	}
	se.inited = true
	se.initStartTime = time.Now()

	// Once you run as root, you pretty much destroy the chances of a
	// non-privileged user starting the program correctly.
	if uid := os.Getuid(); uid == 0 {
		slog.Error("servenv.Init: running this as root makes no sense")
		os.Exit(1)
	}

	// Limit the stack size. Smaller limits mean any infinite recursion
	// fires earlier, as a stack overflow instead of an out of memory kill.
	debug.SetMaxStack(se.maxStackSize)

	se.onInitHooks.Fire()
}

// GetInitStartTime returns the initialization start time.
func (se *ServEnv) GetInitStartTime() time.Time {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.initStartTime
}

// GetHTTPPort returns the HTTP port value.
func (se *ServEnv) GetHTTPPort() int {
	return se.httpPort.Get()
}

// GetBindAddress returns the bind address value.
func (se *ServEnv) GetBindAddress() string {
	return se.bindAddress.Get()
}

// GetLogger returns the configured logger instance.
func (se *ServEnv) GetLogger() *slog.Logger {
	return se.lg.GetLogger()
}

// Telemetry returns the telemetry owned by this environment.
func (se *ServEnv) Telemetry() *telemetry.Telemetry {
	return se.telemetry
}

// InitTelemetry initializes OTel exporters for this process and registers
// shutdown on OnClose.
func (se *ServEnv) InitTelemetry(ctx context.Context, serviceName string) error {
	if err := se.telemetry.InitTelemetry(ctx, serviceName); err != nil {
		return err
	}
	se.OnClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), se.onCloseTimeout.Get())
		defer cancel()
		if err := se.telemetry.ShutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	})
	return nil
}

// OnInit registers f to be run at the beginning of the app lifecycle.
func (se *ServEnv) OnInit(f func()) {
	se.onInitHooks.Add(f)
}

// OnTerm registers a function to be run when the process receives a SIGTERM.
// All hooks run in parallel, without waiting.
func (se *ServEnv) OnTerm(f func()) {
	se.onTermHooks.Add(f)
}

// OnTermSync registers a function to be run on SIGTERM; Run waits for all
// OnTermSync hooks, up to onterm-timeout, before continuing shutdown.
func (se *ServEnv) OnTermSync(f func()) {
	se.onTermSyncHooks.Add(f)
}

// OnRun registers f to be run right at the beginning of Run.
func (se *ServEnv) OnRun(f func()) {
	se.onRunHooks.Add(f)
}

// OnRunE registers an error-returning function to be run right at the
// beginning of Run. Errors are collected and returned by FireRunHooks.
func (se *ServEnv) OnRunE(f func() error) {
	se.onRunEHooks.Add(f)
}

// OnClose registers f to be run at the end of the app lifecycle, after the
// lameduck period just before the program exits. All hooks run in parallel.
func (se *ServEnv) OnClose(f func()) {
	se.onCloseHooks.Add(f)
}

// FireRunHooks fires the hooks registered by OnRun and OnRunE.
func (se *ServEnv) FireRunHooks() error {
	se.onRunHooks.Fire()
	return se.onRunEHooks.Fire()
}

// fireOnTermSyncHooks returns true iff all the hooks finish before the timeout.
func (se *ServEnv) fireOnTermSyncHooks(timeout time.Duration) bool {
	return se.fireHooksWithTimeout(timeout, "OnTermSync", se.onTermSyncHooks.Fire)
}

// fireOnCloseHooks returns true iff all the hooks finish before the timeout.
func (se *ServEnv) fireOnCloseHooks(timeout time.Duration) bool {
	return se.fireHooksWithTimeout(timeout, "OnClose", se.onCloseHooks.Fire)
}

func (se *ServEnv) fireHooksWithTimeout(timeout time.Duration, name string, hookFn func()) bool {
	slog.Info("firing hooks and waiting for them", "name", name, "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		hookFn()
		close(done)
	}()

	select {
	case <-done:
		slog.Info(fmt.Sprintf("%s hooks finished", name))
		return true
	case <-timer.C:
		slog.Info(fmt.Sprintf("%s hooks timed out", name))
		return false
	}
}

// Exit asks a running Run to shut down as if SIGTERM had arrived.
func (se *ServEnv) Exit() {
	select {
	case se.exitChan <- syscall.SIGTERM:
	default:
	}
}

func (se *ServEnv) notifySignals() {
	signal.Notify(se.exitChan, syscall.SIGTERM, syscall.SIGINT)
}
