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
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/mendsys/mend/go/services/mendd/types"
)

const loadavgDefaultPath = "/proc/loadavg"

// Per-CPU load thresholds.
const (
	loadPerCPUMedium = 2.0
	loadPerCPUHigh   = 4.0
)

// LoadavgProbe reads /proc/loadavg and reports sustained overload
// relative to the CPU count. It is the load-estimate fallback on
// systems without PSI.
type LoadavgProbe struct {
	fs          afero.Fs
	path        string
	numCPU      func() int
	observeLoad func(float64)
}

// NewLoadavgProbe creates the load probe. An empty path uses
// /proc/loadavg; observeLoad may be nil (it is wired only when PSI is
// unavailable).
func NewLoadavgProbe(fs afero.Fs, path string, observeLoad func(float64)) *LoadavgProbe {
	if path == "" {
		path = loadavgDefaultPath
	}
	return &LoadavgProbe{
		fs:          fs,
		path:        path,
		numCPU:      runtime.NumCPU,
		observeLoad: observeLoad,
	}
}

func (p *LoadavgProbe) Name() string { return "loadavg" }

func (p *LoadavgProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return nil, fmt.Errorf("%s is empty", p.path)
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p.path, err)
	}

	cpus := p.numCPU()
	if cpus < 1 {
		cpus = 1
	}
	perCPU := load1 / float64(cpus)

	if p.observeLoad != nil {
		p.observeLoad(min(1, perCPU/loadPerCPUHigh))
	}

	sev := ladder(perCPU, loadPerCPUMedium, loadPerCPUHigh)
	if sev == 0 {
		return nil, nil
	}
	return []types.Candidate{{
		Type:        types.ProblemPerformanceDegradation,
		Severity:    sev,
		Description: fmt.Sprintf("load average %.2f across %d CPUs", load1, cpus),
		Source:      p.Name(),
		Metrics: map[string]float64{
			"load1":        load1,
			"load_per_cpu": perCPU,
		},
	}}, nil
}
