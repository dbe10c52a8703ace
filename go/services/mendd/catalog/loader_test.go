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
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendsys/mend/go/services/mendd/types"
)

const sampleCatalogYAML = `
strategies:
  - name: reclaim-memory
    handlers: [memory-reclaimer]
    estimated_duration: 1m
    success_probability: 0.8
    fallback: restart-subsystem
  - name: restart-subsystem
    handlers: [subsystem-supervisor]
    estimated_duration: 90s
    success_probability: 0.85
    requires_approval: true
problem_types:
  memory-pressure: [reclaim-memory, restart-subsystem]
`

func writeCatalog(t *testing.T, content string) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/etc/mend/catalog.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	return fs, path
}

func TestLoadTable(t *testing.T) {
	fs, path := writeCatalog(t, sampleCatalogYAML)

	table, err := LoadTable(fs, path)
	require.NoError(t, err)
	require.Len(t, table.Strategies, 2)

	assert.Equal(t, types.Strategy{
		Name:               "reclaim-memory",
		Handlers:           []string{"memory-reclaimer"},
		EstimatedDuration:  time.Minute,
		SuccessProbability: 0.8,
		Fallback:           "restart-subsystem",
	}, table.Strategies[0])

	assert.Equal(t, 90*time.Second, table.Strategies[1].EstimatedDuration)
	assert.True(t, table.Strategies[1].RequiresApproval)
	assert.Equal(t,
		[]string{"reclaim-memory", "restart-subsystem"},
		table.Types[types.ProblemMemoryPressure])
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read catalog file")
}

func TestLoadTableMalformedYAML(t *testing.T) {
	fs, path := writeCatalog(t, "strategies: [\n")
	_, err := LoadTable(fs, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse catalog file")
}

func TestLoadTableRejectsUnknownKeys(t *testing.T) {
	fs, path := writeCatalog(t, `
strategies:
  - name: fix
    handlers: [generic-medic]
    estimated_duration: 1m
    success_probability: 0.5
    retries: 3
problem_types:
  memory-pressure: [fix]
`)
	_, err := LoadTable(fs, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid catalog file")
}

func TestLoadTableRejectsBadDuration(t *testing.T) {
	fs, path := writeCatalog(t, `
strategies:
  - name: fix
    handlers: [generic-medic]
    estimated_duration: soonish
    success_probability: 0.5
problem_types:
  memory-pressure: [fix]
`)
	_, err := LoadTable(fs, path)
	require.Error(t, err)
}

// The loaded table is a declaration only; semantic checks still run in
// Build. A shape-valid file that names an undeclared strategy must fail
// there, not in LoadTable.
func TestLoadedTableStillValidates(t *testing.T) {
	fs, path := writeCatalog(t, `
strategies:
  - name: fix
    handlers: [generic-medic]
    estimated_duration: 1m
    success_probability: 0.5
problem_types:
  memory-pressure: [ghost]
`)
	table, err := LoadTable(fs, path)
	require.NoError(t, err)

	_, err = Build(table, allHandlersKnown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared strategy")
}
