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

const pressureDefaultDir = "/proc/pressure"

// PSI stall thresholds (avg10 percentages).
const (
	cpuSomeMedium = 40.0
	cpuSomeHigh   = 70.0
	ioFullMedium  = 30.0
	ioFullHigh    = 60.0
)

// PressureProbe reads the kernel PSI files and reports CPU contention
// and I/O stalls. It also publishes cpu some-avg10/100 as the load
// estimate.
type PressureProbe struct {
	fs          afero.Fs
	dir         string
	observeLoad func(float64)
}

// NewPressureProbe creates the PSI probe. An empty dir uses
// /proc/pressure; observeLoad may be nil.
func NewPressureProbe(fs afero.Fs, dir string, observeLoad func(float64)) *PressureProbe {
	if dir == "" {
		dir = pressureDefaultDir
	}
	return &PressureProbe{fs: fs, dir: dir, observeLoad: observeLoad}
}

func (p *PressureProbe) Name() string { return "pressure" }

// Available reports whether the PSI files exist on this system. The
// daemon falls back to loadavg for the load estimate when they don't.
func (p *PressureProbe) Available() bool {
	_, err := p.fs.Stat(p.dir + "/cpu")
	return err == nil
}

func (p *PressureProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	cpuSome, _, err := p.readPSI("cpu")
	if err != nil {
		return nil, err
	}
	_, ioFull, err := p.readPSI("io")
	if err != nil {
		return nil, err
	}

	if p.observeLoad != nil {
		p.observeLoad(cpuSome / 100)
	}

	var out []types.Candidate
	if sev := ladder(cpuSome, cpuSomeMedium, cpuSomeHigh); sev != 0 {
		out = append(out, types.Candidate{
			Type:        types.ProblemPerformanceDegradation,
			Severity:    sev,
			Description: fmt.Sprintf("cpu pressure some avg10 at %.1f%%", cpuSome),
			Source:      p.Name() + ":cpu",
			Metrics:     map[string]float64{"cpu_some_avg10": cpuSome},
		})
	}
	if sev := ladder(ioFull, ioFullMedium, ioFullHigh); sev != 0 {
		out = append(out, types.Candidate{
			Type:        types.ProblemResourceExhaustion,
			Severity:    sev,
			Description: fmt.Sprintf("io pressure full avg10 at %.1f%%", ioFull),
			Source:      p.Name() + ":io",
			Metrics:     map[string]float64{"io_full_avg10": ioFull},
		})
	}
	return out, nil
}

// readPSI returns the some and full avg10 values from one PSI file.
// The full line is absent for cpu on older kernels; zero is returned.
func (p *PressureProbe) readPSI(resource string) (someAvg10, fullAvg10 float64, err error) {
	path := p.dir + "/" + resource
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		avg10, perr := parsePSIField(fields[1])
		if perr != nil {
			return 0, 0, fmt.Errorf("parsing %s line %q: %w", path, scanner.Text(), perr)
		}
		switch fields[0] {
		case "some":
			someAvg10 = avg10
		case "full":
			fullAvg10 = avg10
		}
	}
	return someAvg10, fullAvg10, nil
}

// parsePSIField parses "avg10=12.34".
func parsePSIField(field string) (float64, error) {
	value, ok := strings.CutPrefix(field, "avg10=")
	if !ok {
		return 0, fmt.Errorf("expected avg10 field, got %q", field)
	}
	return strconv.ParseFloat(value, 64)
}

// ladder maps a percentage onto medium/high severity.
func ladder(value, medium, high float64) types.Severity {
	switch {
	case value >= high:
		return types.SeverityHigh
	case value >= medium:
		return types.SeverityMedium
	default:
		return 0
	}
}
