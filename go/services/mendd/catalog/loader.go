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

package catalog

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// fileTable is the YAML shape of a catalog file:
//
//	strategies:
//	  - name: reclaim-memory
//	    handlers: [memory-reclaimer]
//	    estimated_duration: 1m
//	    success_probability: 0.8
//	    fallback: restart-subsystem
//	    requires_approval: false
//	problem_types:
//	  memory-pressure: [reclaim-memory]
type fileTable struct {
	Strategies []fileStrategy      `mapstructure:"strategies"`
	Types      map[string][]string `mapstructure:"problem_types"`
}

type fileStrategy struct {
	Name               string        `mapstructure:"name"`
	Handlers           []string      `mapstructure:"handlers"`
	EstimatedDuration  time.Duration `mapstructure:"estimated_duration"`
	SuccessProbability float64       `mapstructure:"success_probability"`
	Fallback           string        `mapstructure:"fallback"`
	RequiresApproval   bool          `mapstructure:"requires_approval"`
}

// LoadTable reads a catalog table from a YAML file. The fs parameter is
// injectable so tests load from an in-memory filesystem. The result still
// has to pass Build/Replace validation; LoadTable only checks shape.
func LoadTable(fs afero.Fs, path string) (Table, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Table{}, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	var ft fileTable
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &ft,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Table{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Table{}, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}

	table := Table{
		Strategies: make([]types.Strategy, 0, len(ft.Strategies)),
		Types:      make(map[types.ProblemType][]string, len(ft.Types)),
	}
	for _, s := range ft.Strategies {
		table.Strategies = append(table.Strategies, types.Strategy{
			Name:               s.Name,
			Handlers:           s.Handlers,
			EstimatedDuration:  s.EstimatedDuration,
			SuccessProbability: s.SuccessProbability,
			Fallback:           s.Fallback,
			RequiresApproval:   s.RequiresApproval,
		})
	}
	for t, names := range ft.Types {
		table.Types[types.ProblemType(t)] = names
	}
	return table, nil
}
