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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/mendsys/mend/go/services/mendd/types"
)

const meminfoDefaultPath = "/proc/meminfo"

// MeminfoProbe reads /proc/meminfo and reports memory pressure from the
// MemAvailable/MemTotal ratio.
type MeminfoProbe struct {
	fs   afero.Fs
	path string
}

// NewMeminfoProbe creates the memory probe. An empty path uses
// /proc/meminfo.
func NewMeminfoProbe(fs afero.Fs, path string) *MeminfoProbe {
	if path == "" {
		path = meminfoDefaultPath
	}
	return &MeminfoProbe{fs: fs, path: path}
}

func (p *MeminfoProbe) Name() string { return "meminfo" }

func (p *MeminfoProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.path, err)
	}
	total, available, err := parseMeminfo(data)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("%s reports zero total memory", p.path)
	}

	ratio := 1 - float64(available)/float64(total)
	sev := usageSeverity(ratio)
	if sev == 0 {
		return nil, nil
	}
	return []types.Candidate{{
		Type:        types.ProblemMemoryPressure,
		Severity:    sev,
		Description: fmt.Sprintf("memory usage at %.0f%%", ratio*100),
		Source:      p.Name(),
		Metrics: map[string]float64{
			"usage_ratio":      ratio,
			"mem_total_kb":     float64(total),
			"mem_available_kb": float64(available),
		},
	}}, nil
}

// parseMeminfo extracts MemTotal and MemAvailable in kB.
func parseMeminfo(data []byte) (total, available uint64, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, err = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, err = strconv.ParseUint(fields[1], 10, 64)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("parsing meminfo line %q: %w", scanner.Text(), err)
		}
	}
	if total == 0 && available == 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal/MemAvailable")
	}
	return total, available, nil
}
