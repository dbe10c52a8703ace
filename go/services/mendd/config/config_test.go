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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendsys/mend/go/viperutil"
)

func TestDefaults(t *testing.T) {
	cfg := NewTestConfig()

	assert.Equal(t, 10*time.Second, cfg.GetDetectionInterval())
	assert.Equal(t, 30*time.Second, cfg.GetHealthInterval())
	assert.Equal(t, 60*time.Second, cfg.GetDedupWindow())
	assert.Equal(t, 60*time.Second, cfg.GetQuietWindow())
	assert.Equal(t, 30*time.Second, cfg.GetStandardTimeout())
	assert.Equal(t, 10*time.Second, cfg.GetEmergencyTimeout())
	assert.Equal(t, 10, cfg.GetMaxConcurrentProblems())
	assert.Equal(t, 4, cfg.GetDispatchWorkers())
	assert.Equal(t, 256, cfg.GetHistorySize())
	assert.Empty(t, cfg.GetHandlerMap())
	assert.Equal(t, "generic-medic", cfg.GetDefaultHandler())
	assert.Equal(t, "", cfg.GetCatalogPath())
	assert.False(t, cfg.GetCatalogWatch())
	assert.Equal(t, 10000, cfg.GetGoroutineThreshold())
	assert.Empty(t, cfg.GetNetEndpoints())
	assert.Equal(t, 3*time.Second, cfg.GetNetDialTimeout())
	assert.Equal(t, []string{"/"}, cfg.GetMountPoints())
	assert.Empty(t, cfg.GetScratchDirs())
	assert.Equal(t, 24*time.Hour, cfg.GetScratchMaxAge())
	assert.Equal(t, "", cfg.GetDumpDir())
}

func TestOptions(t *testing.T) {
	cfg := NewTestConfig(
		WithDetectionInterval(time.Second),
		WithDedupWindow(5*time.Second),
		WithMaxConcurrentProblems(2),
		WithDispatchWorkers(1),
		WithHandlerMap(map[string]string{"memory-pressure": "memory-reclaimer"}),
		WithNetEndpoints([]string{"db:5432"}),
		WithScratchDirs([]string{"/tmp/mend"}),
	)

	assert.Equal(t, time.Second, cfg.GetDetectionInterval())
	assert.Equal(t, 5*time.Second, cfg.GetDedupWindow())
	assert.Equal(t, 2, cfg.GetMaxConcurrentProblems())
	assert.Equal(t, 1, cfg.GetDispatchWorkers())
	assert.Equal(t, map[string]string{"memory-pressure": "memory-reclaimer"}, cfg.GetHandlerMap())
	assert.Equal(t, []string{"db:5432"}, cfg.GetNetEndpoints())
	assert.Equal(t, []string{"/tmp/mend"}, cfg.GetScratchDirs())
}

func TestFlagsOverrideDefaults(t *testing.T) {
	reg := viperutil.NewRegistry()
	cfg := NewConfig(reg)

	fs := pflag.NewFlagSet("mendd", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--detection-interval=5s",
		"--max-concurrent-problems=3",
		"--handler-map=network-loss=network-doctor",
		"--net-endpoints=db:5432,cache:6379",
		"--catalog-watch",
	}))

	assert.Equal(t, 5*time.Second, cfg.GetDetectionInterval())
	assert.Equal(t, 3, cfg.GetMaxConcurrentProblems())
	assert.Equal(t, map[string]string{"network-loss": "network-doctor"}, cfg.GetHandlerMap())
	assert.Equal(t, []string{"db:5432", "cache:6379"}, cfg.GetNetEndpoints())
	assert.True(t, cfg.GetCatalogWatch())

	// Unset flags keep their defaults.
	assert.Equal(t, 4, cfg.GetDispatchWorkers())
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MEND_DEDUP_WINDOW", "90s")
	t.Setenv("MEND_DISPATCH_WORKERS", "8")

	cfg := NewConfig(viperutil.NewRegistry())
	assert.Equal(t, 90*time.Second, cfg.GetDedupWindow())
	assert.Equal(t, 8, cfg.GetDispatchWorkers())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mendd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"detection-interval: 2s\nhistory-size: 16\nmount-points:\n  - /data\n"), 0o644))

	reg := viperutil.NewRegistry()
	cfg := NewConfig(reg)
	require.NoError(t, reg.LoadConfigFile(path))

	assert.Equal(t, 2*time.Second, cfg.GetDetectionInterval())
	assert.Equal(t, 16, cfg.GetHistorySize())
	assert.Equal(t, []string{"/data"}, cfg.GetMountPoints())
}

func TestFlagBeatsEnv(t *testing.T) {
	t.Setenv("MEND_STANDARD_TIMEOUT", "45s")

	reg := viperutil.NewRegistry()
	cfg := NewConfig(reg)
	fs := pflag.NewFlagSet("mendd", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--standard-timeout=15s"}))

	assert.Equal(t, 15*time.Second, cfg.GetStandardTimeout())
}
