// Copyright 2026 The Mend Authors
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

// Package config holds the startup-time configuration for the remediation
// engine. All values are resolved once through viper (flags, environment,
// config file, defaults); nothing here is mutated at runtime except the
// detection interval, which is dynamic so operators can slow a noisy loop
// without a restart.
package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/mendsys/mend/go/viperutil"
)

// Constants that are not operator-tunable.
const (
	// DispatchQueueCapacity is the maximum number of problems that can be
	// queued for dispatch before Push starts dropping.
	DispatchQueueCapacity = 1024

	// DegradedHandlerScore is the health score reported for a handler
	// that has been flagged unhealthy.
	DegradedHandlerScore = 0.2

	// UnhealthyAfterConsecutiveFailures flags a handler unhealthy once it
	// fails this many attempts in a row.
	UnhealthyAfterConsecutiveFailures = 3
)

// Config encapsulates all mendd configuration.
// It is passed to the engine and the components it composes.
type Config struct {
	detectionInterval     viperutil.Value[time.Duration]
	healthInterval        viperutil.Value[time.Duration]
	dedupWindow           viperutil.Value[time.Duration]
	quietWindow           viperutil.Value[time.Duration]
	standardTimeout       viperutil.Value[time.Duration]
	emergencyTimeout      viperutil.Value[time.Duration]
	maxConcurrentProblems viperutil.Value[int]
	dispatchWorkers       viperutil.Value[int]
	historySize           viperutil.Value[int]

	handlerMap     viperutil.Value[map[string]string]
	defaultHandler viperutil.Value[string]

	catalogPath  viperutil.Value[string]
	catalogWatch viperutil.Value[bool]

	goroutineThreshold viperutil.Value[int]
	netEndpoints       viperutil.Value[[]string]
	netDialTimeout     viperutil.Value[time.Duration]
	mountPoints        viperutil.Value[[]string]
	scratchDirs        viperutil.Value[[]string]
	scratchMaxAge      viperutil.Value[time.Duration]
	dumpDir            viperutil.Value[string]
}

// NewConfig creates a new Config with all viperutil values registered.
func NewConfig(reg *viperutil.Registry) *Config {
	return &Config{
		detectionInterval: viperutil.Configure(reg, "detection-interval", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "detection-interval",
			Dynamic:  true,
			EnvVars:  []string{"MEND_DETECTION_INTERVAL"},
		}),
		healthInterval: viperutil.Configure(reg, "health-interval", viperutil.Options[time.Duration]{
			Default:  30 * time.Second,
			FlagName: "health-interval",
			Dynamic:  false,
			EnvVars:  []string{"MEND_HEALTH_INTERVAL"},
		}),
		dedupWindow: viperutil.Configure(reg, "dedup-window", viperutil.Options[time.Duration]{
			Default:  60 * time.Second,
			FlagName: "dedup-window",
			Dynamic:  false,
			EnvVars:  []string{"MEND_DEDUP_WINDOW"},
		}),
		quietWindow: viperutil.Configure(reg, "quiet-window", viperutil.Options[time.Duration]{
			Default:  60 * time.Second,
			FlagName: "quiet-window",
			Dynamic:  false,
			EnvVars:  []string{"MEND_QUIET_WINDOW"},
		}),
		standardTimeout: viperutil.Configure(reg, "standard-timeout", viperutil.Options[time.Duration]{
			Default:  30 * time.Second,
			FlagName: "standard-timeout",
			Dynamic:  false,
			EnvVars:  []string{"MEND_STANDARD_TIMEOUT"},
		}),
		emergencyTimeout: viperutil.Configure(reg, "emergency-timeout", viperutil.Options[time.Duration]{
			Default:  10 * time.Second,
			FlagName: "emergency-timeout",
			Dynamic:  false,
			EnvVars:  []string{"MEND_EMERGENCY_TIMEOUT"},
		}),
		maxConcurrentProblems: viperutil.Configure(reg, "max-concurrent-problems", viperutil.Options[int]{
			Default:  10,
			FlagName: "max-concurrent-problems",
			Dynamic:  false,
			EnvVars:  []string{"MEND_MAX_CONCURRENT_PROBLEMS"},
		}),
		dispatchWorkers: viperutil.Configure(reg, "dispatch-workers", viperutil.Options[int]{
			Default:  4,
			FlagName: "dispatch-workers",
			Dynamic:  false,
			EnvVars:  []string{"MEND_DISPATCH_WORKERS"},
		}),
		historySize: viperutil.Configure(reg, "history-size", viperutil.Options[int]{
			Default:  256,
			FlagName: "history-size",
			Dynamic:  false,
		}),
		handlerMap: viperutil.Configure(reg, "handler-map", viperutil.Options[map[string]string]{
			Default:  map[string]string{},
			FlagName: "handler-map",
			Dynamic:  false,
		}),
		defaultHandler: viperutil.Configure(reg, "default-handler", viperutil.Options[string]{
			Default:  "generic-medic",
			FlagName: "default-handler",
			Dynamic:  false,
		}),
		catalogPath: viperutil.Configure(reg, "catalog-path", viperutil.Options[string]{
			Default:  "",
			FlagName: "catalog-path",
			Dynamic:  false,
			EnvVars:  []string{"MEND_CATALOG_PATH"},
		}),
		catalogWatch: viperutil.Configure(reg, "catalog-watch", viperutil.Options[bool]{
			Default:  false,
			FlagName: "catalog-watch",
			Dynamic:  false,
		}),
		goroutineThreshold: viperutil.Configure(reg, "goroutine-threshold", viperutil.Options[int]{
			Default:  10000,
			FlagName: "goroutine-threshold",
			Dynamic:  false,
		}),
		netEndpoints: viperutil.Configure(reg, "net-endpoints", viperutil.Options[[]string]{
			Default:  []string{},
			FlagName: "net-endpoints",
			Dynamic:  false,
			EnvVars:  []string{"MEND_NET_ENDPOINTS"},
		}),
		netDialTimeout: viperutil.Configure(reg, "net-dial-timeout", viperutil.Options[time.Duration]{
			Default:  3 * time.Second,
			FlagName: "net-dial-timeout",
			Dynamic:  false,
		}),
		mountPoints: viperutil.Configure(reg, "mount-points", viperutil.Options[[]string]{
			Default:  []string{"/"},
			FlagName: "mount-points",
			Dynamic:  false,
		}),
		scratchDirs: viperutil.Configure(reg, "scratch-dirs", viperutil.Options[[]string]{
			Default:  []string{},
			FlagName: "scratch-dirs",
			Dynamic:  false,
		}),
		scratchMaxAge: viperutil.Configure(reg, "scratch-max-age", viperutil.Options[time.Duration]{
			Default:  24 * time.Hour,
			FlagName: "scratch-max-age",
			Dynamic:  false,
		}),
		dumpDir: viperutil.Configure(reg, "dump-dir", viperutil.Options[string]{
			Default:  "",
			FlagName: "dump-dir",
			Dynamic:  false,
		}),
	}
}

// Getter methods

func (c *Config) GetDetectionInterval() time.Duration {
	return c.detectionInterval.Get()
}

func (c *Config) GetHealthInterval() time.Duration {
	return c.healthInterval.Get()
}

func (c *Config) GetDedupWindow() time.Duration {
	return c.dedupWindow.Get()
}

func (c *Config) GetQuietWindow() time.Duration {
	return c.quietWindow.Get()
}

func (c *Config) GetStandardTimeout() time.Duration {
	return c.standardTimeout.Get()
}

func (c *Config) GetEmergencyTimeout() time.Duration {
	return c.emergencyTimeout.Get()
}

func (c *Config) GetMaxConcurrentProblems() int {
	return c.maxConcurrentProblems.Get()
}

func (c *Config) GetDispatchWorkers() int {
	return c.dispatchWorkers.Get()
}

func (c *Config) GetHistorySize() int {
	return c.historySize.Get()
}

func (c *Config) GetHandlerMap() map[string]string {
	return c.handlerMap.Get()
}

func (c *Config) GetDefaultHandler() string {
	return c.defaultHandler.Get()
}

func (c *Config) GetCatalogPath() string {
	return c.catalogPath.Get()
}

func (c *Config) GetCatalogWatch() bool {
	return c.catalogWatch.Get()
}

func (c *Config) GetGoroutineThreshold() int {
	return c.goroutineThreshold.Get()
}

func (c *Config) GetNetEndpoints() []string {
	return c.netEndpoints.Get()
}

func (c *Config) GetNetDialTimeout() time.Duration {
	return c.netDialTimeout.Get()
}

func (c *Config) GetMountPoints() []string {
	return c.mountPoints.Get()
}

func (c *Config) GetScratchDirs() []string {
	return c.scratchDirs.Get()
}

func (c *Config) GetScratchMaxAge() time.Duration {
	return c.scratchMaxAge.Get()
}

func (c *Config) GetDumpDir() string {
	return c.dumpDir.Get()
}

// RegisterFlags registers the config flags with pflag.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.Duration("detection-interval", c.detectionInterval.Default(), "interval between probe detection cycles")
	fs.Duration("health-interval", c.healthInterval.Default(), "interval between health score recomputations")
	fs.Duration("dedup-window", c.dedupWindow.Default(), "window during which a repeat detection of the same type and source is suppressed")
	fs.Duration("quiet-window", c.quietWindow.Default(), "period without critical problems before emergency mode is exited")
	fs.Duration("standard-timeout", c.standardTimeout.Default(), "deadline for remediation of non-emergency problems")
	fs.Duration("emergency-timeout", c.emergencyTimeout.Default(), "deadline for remediation of emergency problems")
	fs.Int("max-concurrent-problems", c.maxConcurrentProblems.Default(), "maximum active problems before sub-critical candidates are rejected")
	fs.Int("dispatch-workers", c.dispatchWorkers.Default(), "number of concurrent remediation workers")
	fs.Int("history-size", c.historySize.Default(), "number of terminal problems retained for inspection")
	fs.StringToString("handler-map", c.handlerMap.Default(), "problem-type to handler-name overrides, e.g. memory-pressure=memory-reclaimer")
	fs.String("default-handler", c.defaultHandler.Default(), "handler responsible for problem types with no explicit mapping")
	fs.String("catalog-path", c.catalogPath.Default(), "path to a YAML strategy catalog; empty uses the builtin catalog")
	fs.Bool("catalog-watch", c.catalogWatch.Default(), "watch catalog-path for changes and reload the catalog")
	fs.Int("goroutine-threshold", c.goroutineThreshold.Default(), "goroutine count above which a runaway-loop problem is reported")
	fs.StringSlice("net-endpoints", c.netEndpoints.Default(), "host:port endpoints checked for TCP reachability")
	fs.Duration("net-dial-timeout", c.netDialTimeout.Default(), "dial timeout for reachability checks")
	fs.StringSlice("mount-points", c.mountPoints.Default(), "mount points monitored for storage headroom")
	fs.StringSlice("scratch-dirs", c.scratchDirs.Default(), "directories the storage janitor may clean")
	fs.Duration("scratch-max-age", c.scratchMaxAge.Default(), "age above which scratch files are considered expired")
	fs.String("dump-dir", c.dumpDir.Default(), "directory for goroutine dumps; empty uses the OS temp dir")
	viperutil.BindFlags(fs,
		c.detectionInterval,
		c.healthInterval,
		c.dedupWindow,
		c.quietWindow,
		c.standardTimeout,
		c.emergencyTimeout,
		c.maxConcurrentProblems,
		c.dispatchWorkers,
		c.historySize,
		c.handlerMap,
		c.defaultHandler,
		c.catalogPath,
		c.catalogWatch,
		c.goroutineThreshold,
		c.netEndpoints,
		c.netDialTimeout,
		c.mountPoints,
		c.scratchDirs,
		c.scratchMaxAge,
		c.dumpDir,
	)
}

// Test helper functions

// Option customizes a Config in NewTestConfig.
type Option = func(*Config)

// NewTestConfig creates a Config for testing with optional custom values.
func NewTestConfig(opts ...func(*Config)) *Config {
	reg := viperutil.NewRegistry()
	cfg := NewConfig(reg)
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithDetectionInterval sets the detection interval for testing.
func WithDetectionInterval(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.detectionInterval.Set(d)
	}
}

// WithHealthInterval sets the health recompute interval for testing.
func WithHealthInterval(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.healthInterval.Set(d)
	}
}

// WithDedupWindow sets the duplicate suppression window for testing.
func WithDedupWindow(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.dedupWindow.Set(d)
	}
}

// WithQuietWindow sets the emergency quiet window for testing.
func WithQuietWindow(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.quietWindow.Set(d)
	}
}

// WithStandardTimeout sets the standard remediation deadline for testing.
func WithStandardTimeout(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.standardTimeout.Set(d)
	}
}

// WithEmergencyTimeout sets the emergency remediation deadline for testing.
func WithEmergencyTimeout(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.emergencyTimeout.Set(d)
	}
}

// WithMaxConcurrentProblems sets the active problem capacity for testing.
func WithMaxConcurrentProblems(n int) func(*Config) {
	return func(cfg *Config) {
		cfg.maxConcurrentProblems.Set(n)
	}
}

// WithDispatchWorkers sets the worker count for testing.
func WithDispatchWorkers(n int) func(*Config) {
	return func(cfg *Config) {
		cfg.dispatchWorkers.Set(n)
	}
}

// WithHistorySize sets the history ring size for testing.
func WithHistorySize(n int) func(*Config) {
	return func(cfg *Config) {
		cfg.historySize.Set(n)
	}
}

// WithHandlerMap sets type-to-handler overrides for testing.
func WithHandlerMap(m map[string]string) func(*Config) {
	return func(cfg *Config) {
		cfg.handlerMap.Set(m)
	}
}

// WithDefaultHandler sets the fallback handler name for testing.
func WithDefaultHandler(name string) func(*Config) {
	return func(cfg *Config) {
		cfg.defaultHandler.Set(name)
	}
}

// WithGoroutineThreshold sets the runaway-loop threshold for testing.
func WithGoroutineThreshold(n int) func(*Config) {
	return func(cfg *Config) {
		cfg.goroutineThreshold.Set(n)
	}
}

// WithNetEndpoints sets the reachability endpoints for testing.
func WithNetEndpoints(endpoints []string) func(*Config) {
	return func(cfg *Config) {
		cfg.netEndpoints.Set(endpoints)
	}
}

// WithMountPoints sets the monitored mount points for testing.
func WithMountPoints(mounts []string) func(*Config) {
	return func(cfg *Config) {
		cfg.mountPoints.Set(mounts)
	}
}

// WithScratchDirs sets the janitor directories for testing.
func WithScratchDirs(dirs []string) func(*Config) {
	return func(cfg *Config) {
		cfg.scratchDirs.Set(dirs)
	}
}

// WithScratchMaxAge sets the scratch file expiry for testing.
func WithScratchMaxAge(d time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.scratchMaxAge.Set(d)
	}
}

// WithDumpDir sets the goroutine dump directory for testing.
func WithDumpDir(dir string) func(*Config) {
	return func(cfg *Config) {
		cfg.dumpDir.Set(dir)
	}
}

// WithCatalogPath sets the strategy catalog file path for testing.
func WithCatalogPath(path string) func(*Config) {
	return func(cfg *Config) {
		cfg.catalogPath.Set(path)
	}
}

// WithCatalogWatch enables catalog hot reload for testing.
func WithCatalogWatch(watch bool) func(*Config) {
	return func(cfg *Config) {
		cfg.catalogWatch.Set(watch)
	}
}
