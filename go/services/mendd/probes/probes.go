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

// Package probes contains the builtin signal probes. A probe samples
// one system signal and turns it into problem candidates; the engine
// admits or rejects them.
package probes

import (
	"context"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// Probe samples a system signal. Sample must be side-effect-free and
// fast; returning an error skips the probe for this cycle only.
type Probe interface {
	Name() string
	Sample(ctx context.Context) ([]types.Candidate, error)
}

// usageSeverity is the shared ladder for usage-ratio probes (meminfo,
// storage): ≥0.85 medium, ≥0.90 high, >0.95 critical. Returns zero
// severity below the ladder.
func usageSeverity(ratio float64) types.Severity {
	switch {
	case ratio > 0.95:
		return types.SeverityCritical
	case ratio >= 0.90:
		return types.SeverityHigh
	case ratio >= 0.85:
		return types.SeverityMedium
	default:
		return 0
	}
}
