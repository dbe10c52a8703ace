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

// Package handlers defines the remediation handler contract, the handler
// registry the catalog validates against, and the per-handler performance
// counters that feed the health aggregator.
package handlers

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/store"
	"github.com/mendsys/mend/go/services/mendd/types"
)

// Builtin handler names. The strategy catalog and the default
// type-to-handler mapping refer to these.
const (
	GenericMedic        = "generic-medic"
	MemoryReclaimer     = "memory-reclaimer"
	StorageJanitor      = "storage-janitor"
	NetworkDoctor       = "network-doctor"
	SubsystemSupervisor = "subsystem-supervisor"
	ThrottleGovernor    = "throttle-governor"
	LoopBreaker         = "loop-breaker"
	SecurityWarden      = "security-warden"
)

// RemediationHandler attempts to fix a problem using a strategy.
// A nil return means the problem is considered resolved. Handlers must
// honor ctx cancellation: the dispatcher enforces a deadline and treats
// an overrun as failure regardless of what the handler does afterwards.
type RemediationHandler interface {
	// Name returns the handler's registered name.
	Name() string

	// Remediate performs the repair. The problem is a private clone the
	// handler may read freely; mutations are not written back.
	Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error

	// Metadata returns descriptive info about this handler.
	Metadata() Metadata
}

// Metadata describes a handler for logs and debug endpoints.
type Metadata struct {
	Description string
}

// Registry maps handler names to implementations. It is populated at
// startup and read-only afterwards; catalog validation resolves handler
// references against it.
type Registry struct {
	mu     sync.Mutex
	byName map[string]RemediationHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]RemediationHandler)}
}

// Register adds a handler. Registering the same name twice is a
// configuration error.
func (r *Registry) Register(h RemediationHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler with empty name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("handler %q registered twice", name)
	}
	r.byName[name] = h
	return nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (RemediationHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byName[name]
	return h, ok
}

// Known reports whether a handler name is registered. It is the
// validation hook the catalog uses.
func (r *Registry) Known(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Performance is the per-handler counter record. It is updated after
// every attempt and read by the health aggregator.
type Performance struct {
	Attempts            uint64
	Successes           uint64
	Failures            uint64
	ConsecutiveFailures int
	CumulativeLatency   time.Duration
}

// Clone returns a copy; Performance crosses the store boundary by value.
func (p *Performance) Clone() *Performance {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// SuccessRate returns successes over attempts, or 1 when the handler has
// not been exercised yet (an untried handler is presumed healthy).
func (p *Performance) SuccessRate() float64 {
	if p == nil || p.Attempts == 0 {
		return 1.0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

// Healthy reports whether the handler is below the consecutive-failure
// threshold.
func (p *Performance) Healthy() bool {
	return p == nil || p.ConsecutiveFailures < config.UnhealthyAfterConsecutiveFailures
}

// PerfStore tracks Performance per handler name with clone-on-read
// semantics, shared between the dispatcher (writes) and the aggregator
// (reads).
type PerfStore struct {
	*store.Store[string, *Performance]
}

// NewPerfStore creates an empty performance store.
func NewPerfStore() *PerfStore {
	return &PerfStore{
		Store: store.New[string](func(p *Performance) *Performance { return p.Clone() }),
	}
}

// Record updates a handler's counters after an attempt.
func (s *PerfStore) Record(handler string, success bool, latency time.Duration) {
	s.Update(handler, func(p *Performance) *Performance {
		if p == nil {
			p = &Performance{}
		}
		p.Attempts++
		p.CumulativeLatency += latency
		if success {
			p.Successes++
			p.ConsecutiveFailures = 0
		} else {
			p.Failures++
			p.ConsecutiveFailures++
		}
		return p
	})
}
