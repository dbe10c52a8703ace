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
	"syscall"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// StatfsFunc reports total and available bytes for a mount point.
type StatfsFunc func(path string) (total, available uint64, err error)

// StorageProbe checks disk usage on the configured mount points.
type StorageProbe struct {
	mountPoints func() []string
	statfs      StatfsFunc
}

// NewStorageProbe creates the disk probe. A nil statfs uses the real
// filesystem.
func NewStorageProbe(mountPoints func() []string, statfs StatfsFunc) *StorageProbe {
	if statfs == nil {
		statfs = realStatfs
	}
	return &StorageProbe{mountPoints: mountPoints, statfs: statfs}
}

func (p *StorageProbe) Name() string { return "storage" }

func (p *StorageProbe) Sample(ctx context.Context) ([]types.Candidate, error) {
	var out []types.Candidate
	for _, mount := range p.mountPoints() {
		total, available, err := p.statfs(mount)
		if err != nil {
			return nil, fmt.Errorf("statfs %s: %w", mount, err)
		}
		if total == 0 {
			continue
		}
		ratio := 1 - float64(available)/float64(total)
		sev := usageSeverity(ratio)
		if sev == 0 {
			continue
		}
		out = append(out, types.Candidate{
			Type:        types.ProblemStorageExhaustion,
			Severity:    sev,
			Description: fmt.Sprintf("disk usage at %.0f%% on %s", ratio*100, mount),
			Source:      p.Name() + ":" + mount,
			Attributes:  map[string]string{"mount": mount},
			Metrics: map[string]float64{
				"usage_ratio":     ratio,
				"total_bytes":     float64(total),
				"available_bytes": float64(available),
			},
		})
	}
	return out, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
