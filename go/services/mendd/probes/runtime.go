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

	"github.com/mendsys/mend/go/services/mendd/types"
)

// RuntimeProbe watches the process's own goroutine count for runaway
// growth.
type RuntimeProbe struct {
	threshold    func() int
	numGoroutine func() int
}

// NewRuntimeProbe creates the goroutine probe. threshold supplies the
// configured goroutine ceiling.
func NewRuntimeProbe(threshold func() int) *RuntimeProbe {
	return &RuntimeProbe{
		threshold:    threshold,
		numGoroutine: runtime.NumGoroutine,
	}
}

func (p *RuntimeProbe) Name() string { return "runtime" }

func (p *RuntimeProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	threshold := p.threshold()
	if threshold <= 0 {
		return nil, nil
	}
	count := p.numGoroutine()
	if count < threshold {
		return nil, nil
	}

	sev := types.SeverityMedium
	if count >= 2*threshold {
		sev = types.SeverityHigh
	}
	return []types.Candidate{{
		Type:        types.ProblemRunawayLoop,
		Severity:    sev,
		Description: fmt.Sprintf("%d goroutines, threshold %d", count, threshold),
		Source:      p.Name(),
		Metrics: map[string]float64{
			"goroutines": float64(count),
			"threshold":  float64(threshold),
		},
	}}, nil
}
