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

package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendsys/mend/go/services/mendd/types"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestMeminfoLadder(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		available int
		want      types.Severity
	}{
		{"healthy", 1000, 500, 0},
		{"just below medium", 1000, 160, 0},
		{"medium", 1000, 150, types.SeverityMedium},
		{"high", 1000, 100, types.SeverityHigh},
		{"at 95 percent still high", 1000, 50, types.SeverityHigh},
		{"critical", 1000, 30, types.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, "/proc/meminfo", fmt.Sprintf(
				"MemTotal: %d kB\nMemFree: 10 kB\nMemAvailable: %d kB\n",
				tt.total, tt.available))

			probe := NewMeminfoProbe(fs, "")
			candidates, err := probe.Sample(context.Background())
			require.NoError(t, err)

			if tt.want == 0 {
				assert.Empty(t, candidates)
				return
			}
			require.Len(t, candidates, 1)
			assert.Equal(t, types.ProblemMemoryPressure, candidates[0].Type)
			assert.Equal(t, tt.want, candidates[0].Severity)
			assert.Equal(t, "meminfo", candidates[0].Source)
		})
	}
}

func TestMeminfoCorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/meminfo", "not a meminfo file\n")

	probe := NewMeminfoProbe(fs, "")
	_, err := probe.Sample(context.Background())
	require.Error(t, err)
}

func TestStorageLadder(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		want      types.Severity
	}{
		{"healthy", 500, 0},
		{"medium", 140, types.SeverityMedium},
		{"ratio 0.92 is high", 80, types.SeverityHigh},
		{"critical", 20, types.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statfs := func(path string) (uint64, uint64, error) {
				return 1000, tt.available, nil
			}
			probe := NewStorageProbe(func() []string { return []string{"/data"} }, statfs)
			candidates, err := probe.Sample(context.Background())
			require.NoError(t, err)

			if tt.want == 0 {
				assert.Empty(t, candidates)
				return
			}
			require.Len(t, candidates, 1)
			assert.Equal(t, types.ProblemStorageExhaustion, candidates[0].Type)
			assert.Equal(t, tt.want, candidates[0].Severity)
			assert.Equal(t, "/data", candidates[0].Attributes["mount"])
		})
	}
}

func TestStorageStatfsError(t *testing.T) {
	statfs := func(path string) (uint64, uint64, error) {
		return 0, 0, errors.New("no such mount")
	}
	probe := NewStorageProbe(func() []string { return []string{"/gone"} }, statfs)
	_, err := probe.Sample(context.Background())
	require.Error(t, err)
}

func psiFile(some, full float64) string {
	return fmt.Sprintf(
		"some avg10=%.2f avg60=0.00 avg300=0.00 total=0\nfull avg10=%.2f avg60=0.00 avg300=0.00 total=0\n",
		some, full)
}

func TestPressureLadders(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/pressure/cpu", psiFile(75.0, 0))
	writeFile(t, fs, "/proc/pressure/io", psiFile(50.0, 35.0))

	var load float64
	probe := NewPressureProbe(fs, "", func(v float64) { load = v })
	candidates, err := probe.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, types.ProblemPerformanceDegradation, candidates[0].Type)
	assert.Equal(t, types.SeverityHigh, candidates[0].Severity)
	assert.Equal(t, types.ProblemResourceExhaustion, candidates[1].Type)
	assert.Equal(t, types.SeverityMedium, candidates[1].Severity)

	assert.InDelta(t, 0.75, load, 1e-9, "cpu some avg10 published as load estimate")
}

func TestPressureQuietSystem(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/pressure/cpu", psiFile(5.0, 0))
	writeFile(t, fs, "/proc/pressure/io", psiFile(2.0, 1.0))

	probe := NewPressureProbe(fs, "", nil)
	candidates, err := probe.Sample(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.True(t, probe.Available())
}

func TestLoadavgLadder(t *testing.T) {
	tests := []struct {
		name  string
		load1 float64
		want  types.Severity
	}{
		{"idle", 0.5, 0},
		{"medium", 9.0, types.SeverityMedium},
		{"high", 17.0, types.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, "/proc/loadavg", fmt.Sprintf("%.2f 1.00 1.00 1/100 12345\n", tt.load1))

			probe := NewLoadavgProbe(fs, "", nil)
			probe.numCPU = func() int { return 4 }

			candidates, err := probe.Sample(context.Background())
			require.NoError(t, err)
			if tt.want == 0 {
				assert.Empty(t, candidates)
				return
			}
			require.Len(t, candidates, 1)
			assert.Equal(t, types.ProblemPerformanceDegradation, candidates[0].Type)
			assert.Equal(t, tt.want, candidates[0].Severity)
		})
	}
}

func TestLoadavgPublishesFallbackEstimate(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/proc/loadavg", "8.00 1.00 1.00 1/100 12345\n")

	var load float64
	probe := NewLoadavgProbe(fs, "", func(v float64) { load = v })
	probe.numCPU = func() int { return 4 }

	_, err := probe.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, load, 1e-9, "load1 of 8 on 4 CPUs is half the high threshold")
}

func TestRuntimeProbeThresholds(t *testing.T) {
	probe := NewRuntimeProbe(func() int { return 100 })

	probe.numGoroutine = func() int { return 50 }
	candidates, err := probe.Sample(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)

	probe.numGoroutine = func() int { return 150 }
	candidates, err = probe.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.ProblemRunawayLoop, candidates[0].Type)
	assert.Equal(t, types.SeverityMedium, candidates[0].Severity)

	probe.numGoroutine = func() int { return 200 }
	candidates, err = probe.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.SeverityHigh, candidates[0].Severity)
}

type probeFakeConn struct {
	net.Conn
}

func (probeFakeConn) Close() error { return nil }

func TestNetcheckSeverity(t *testing.T) {
	down := map[string]bool{"a:1": true}
	dial := func(ctx context.Context, address string) (net.Conn, error) {
		if down[address] {
			return nil, errors.New("refused")
		}
		return probeFakeConn{}, nil
	}
	probe := NewNetcheckProbe(
		func() []string { return []string{"a:1", "b:2"} },
		func() time.Duration { return time.Second },
		dial,
	)

	candidates, err := probe.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.ProblemNetworkLoss, candidates[0].Type)
	assert.Equal(t, types.SeverityMedium, candidates[0].Severity, "some endpoints down is medium")
	assert.Equal(t, "a:1", candidates[0].Attributes[types.AttrFailedEndpoints])

	down["b:2"] = true
	candidates, err = probe.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, types.SeverityHigh, candidates[0].Severity, "all endpoints down is high")
	assert.Equal(t, "a:1,b:2", candidates[0].Attributes[types.AttrFailedEndpoints])

	down["a:1"] = false
	down["b:2"] = false
	candidates, err = probe.Sample(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates, "reachable endpoints produce no candidates")
}
