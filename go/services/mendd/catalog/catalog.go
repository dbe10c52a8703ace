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

// Package catalog maps problem types to ordered remediation strategies
// and selects the strategy for a given severity. The table is validated
// once at startup; a type without a strategy is a configuration error
// that aborts initialization, never a runtime surprise.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// ErrNoStrategy is returned by Select for a problem type the catalog does
// not cover. Validation makes this unreachable for known types; it guards
// against a catalog replaced behind the engine's back.
var ErrNoStrategy = errors.New("no strategy for problem type")

// Table is the declaration form of a catalog: a global strategy list plus
// an ordered strategy-name list per problem type. Declaration order is
// meaningful; selection tie-breaks resolve to the first listed.
type Table struct {
	Strategies []types.Strategy
	Types      map[types.ProblemType][]string
}

// Catalog is the validated, read-mostly lookup used by the dispatcher.
// Replace swaps the whole table atomically, so readers never observe a
// half-loaded catalog.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]types.Strategy
	byType map[types.ProblemType][]types.Strategy
}

// Build validates the table and constructs a catalog from it.
// handlerKnown reports whether a handler name is registered; it is part
// of validation so an unknown handler fails at startup, not mid-crisis.
func Build(table Table, handlerKnown func(string) bool) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(table, handlerKnown); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates the new table and swaps it in. On error the previous
// table is kept untouched.
func (c *Catalog) Replace(table Table, handlerKnown func(string) bool) error {
	byName, byType, err := compile(table, handlerKnown)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byName = byName
	c.byType = byType
	c.mu.Unlock()
	return nil
}

// StrategiesFor returns the ordered strategies for a problem type.
// The returned slice and its strategies are clones the caller may keep.
func (c *Catalog) StrategiesFor(t types.ProblemType) []types.Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.byType[t]
	out := make([]types.Strategy, 0, len(list))
	for _, s := range list {
		out = append(out, s.Clone())
	}
	return out
}

// Lookup returns a strategy by its global name.
func (c *Catalog) Lookup(name string) (types.Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.byName[name]
	if !ok {
		return types.Strategy{}, false
	}
	return s.Clone(), true
}

// Select picks the strategy for a problem of the given type and severity:
//
//   - critical/emergency: highest success probability. Approval is
//     bypassed in this tier; speed wins over governance under crisis.
//   - high: only strategies that run unattended, maximizing success
//     probability per estimated minute.
//   - low/medium: shortest estimated duration; urgency is low, so the
//     cheapest attempt goes first.
//
// Ties resolve by catalog declaration order.
func (c *Catalog) Select(t types.ProblemType, severity types.Severity) (types.Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.byType[t]
	if len(list) == 0 {
		return types.Strategy{}, fmt.Errorf("%w: %s", ErrNoStrategy, t)
	}

	switch {
	case severity >= types.SeverityCritical:
		best := list[0]
		for _, s := range list[1:] {
			if s.SuccessProbability > best.SuccessProbability {
				best = s
			}
		}
		return best.Clone(), nil

	case severity == types.SeverityHigh:
		var best types.Strategy
		bestRate := -1.0
		for _, s := range list {
			if s.RequiresApproval {
				continue
			}
			rate := s.SuccessProbability / s.EstimatedDuration.Minutes()
			if rate > bestRate {
				best = s
				bestRate = rate
			}
		}
		// Validation guarantees at least one unattended strategy per type.
		return best.Clone(), nil

	default:
		best := list[0]
		for _, s := range list[1:] {
			if s.EstimatedDuration < best.EstimatedDuration {
				best = s
			}
		}
		return best.Clone(), nil
	}
}

// compile validates a table and produces the lookup maps.
func compile(table Table, handlerKnown func(string) bool) (map[string]types.Strategy, map[types.ProblemType][]types.Strategy, error) {
	byName := make(map[string]types.Strategy, len(table.Strategies))
	for _, s := range table.Strategies {
		if s.Name == "" {
			return nil, nil, fmt.Errorf("strategy with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, nil, fmt.Errorf("strategy %q declared twice", s.Name)
		}
		if s.SuccessProbability < 0 || s.SuccessProbability > 1 {
			return nil, nil, fmt.Errorf("strategy %q: success probability %v outside [0,1]", s.Name, s.SuccessProbability)
		}
		if s.EstimatedDuration <= 0 {
			return nil, nil, fmt.Errorf("strategy %q: estimated duration must be positive", s.Name)
		}
		if len(s.Handlers) == 0 {
			return nil, nil, fmt.Errorf("strategy %q: no handlers", s.Name)
		}
		for _, h := range s.Handlers {
			if !handlerKnown(h) {
				return nil, nil, fmt.Errorf("strategy %q references unknown handler %q", s.Name, h)
			}
		}
		byName[s.Name] = s.Clone()
	}

	for name, s := range byName {
		if s.Fallback == "" {
			continue
		}
		if _, ok := byName[s.Fallback]; !ok {
			return nil, nil, fmt.Errorf("strategy %q: unknown fallback %q", name, s.Fallback)
		}
		if err := checkFallbackCycle(byName, name); err != nil {
			return nil, nil, err
		}
	}

	byType := make(map[types.ProblemType][]types.Strategy, len(table.Types))
	for t, names := range table.Types {
		if !types.KnownProblemType(t) {
			return nil, nil, fmt.Errorf("catalog lists unknown problem type %q", t)
		}
		if len(names) == 0 {
			return nil, nil, fmt.Errorf("problem type %s has no strategies", t)
		}
		unattended := false
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			s, ok := byName[name]
			if !ok {
				return nil, nil, fmt.Errorf("problem type %s references undeclared strategy %q", t, name)
			}
			if seen[name] {
				return nil, nil, fmt.Errorf("problem type %s lists strategy %q twice", t, name)
			}
			seen[name] = true
			if !s.RequiresApproval {
				unattended = true
			}
			byType[t] = append(byType[t], s)
		}
		// High-severity selection restricts to unattended strategies, so
		// every type needs at least one or selection could come up empty.
		if !unattended {
			return nil, nil, fmt.Errorf("problem type %s has only approval-gated strategies", t)
		}
	}

	var missing []types.ProblemType
	for _, t := range types.AllProblemTypes() {
		if _, ok := byType[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("catalog covers no strategies for problem types %v", missing)
	}

	return byName, byType, nil
}

// checkFallbackCycle walks the fallback chain from start, failing on a
// loop. Chains are short; the walk is bounded by the strategy count.
func checkFallbackCycle(byName map[string]types.Strategy, start string) error {
	var visited []string
	name := start
	for name != "" {
		if slices.Contains(visited, name) {
			return fmt.Errorf("fallback cycle involving strategy %q: %v", start, append(visited, name))
		}
		visited = append(visited, name)
		name = byName[name].Fallback
	}
	return nil
}
