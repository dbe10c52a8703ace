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

// Package registry owns the set of active problems. It is the engine's
// single admission point: candidates pass the capacity and duplicate
// policies here or they are never tracked at all. Terminal problems move
// to a bounded history ring for inspection and never change again.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/types"
)

// Admission and lifecycle errors. Rejections are policy outcomes, not
// faults; callers are expected to check them with errors.Is.
var (
	// ErrCapacityExceeded is returned when the active set is full and the
	// candidate is below critical severity.
	ErrCapacityExceeded = errors.New("max concurrent problems reached")

	// ErrDuplicate is returned when an active problem with the same type
	// and source was admitted within the dedup window.
	ErrDuplicate = errors.New("duplicate of recently admitted problem")

	// ErrNotFound is returned for operations on unknown problem ids.
	ErrNotFound = errors.New("problem not found")

	// ErrTerminalStatus is returned when a transition is attempted on a
	// problem that is already RESOLVED or FAILED.
	ErrTerminalStatus = errors.New("problem is in a terminal status")

	// ErrInvalidTransition is returned for status changes that would move
	// the lifecycle backward or skip a stage.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Totals are the registry's running counters. They only ever increase.
type Totals struct {
	Admitted          uint64
	RejectedCapacity  uint64
	RejectedDuplicate uint64
	Resolved          uint64
	Failed            uint64

	// CumulativeResolutionLatency sums DetectedAt-to-ResolvedAt across
	// all resolved problems, for average latency reporting.
	CumulativeResolutionLatency time.Duration
}

// Registry is the mutex-guarded store of active problems.
// All methods are safe for concurrent use from probe and dispatcher
// paths; no lock is held across a blocking call.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// seq feeds problem id minting.
	seq atomic.Uint64

	mu      sync.Mutex
	active  map[string]*types.Problem
	history []*types.Problem // terminal problems, oldest first, bounded
	totals  Totals
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets a custom time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		active: make(map[string]*types.Problem),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit applies the admission policy to a candidate. On success it mints
// a Problem with status DETECTED, stores it, and returns a clone. On
// rejection it returns ErrCapacityExceeded or ErrDuplicate.
func (r *Registry) Admit(candidate types.Candidate) (*types.Problem, error) {
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}

	now := r.now()
	dedupWindow := r.cfg.GetDedupWindow()
	maxActive := r.cfg.GetMaxConcurrentProblems()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Duplicate suppression: one active problem per type+source within
	// the window. By the time a duplicate shows up the original has
	// already progressed past DETECTED, so this is also what keeps a
	// single problem from being remediated twice concurrently.
	for _, p := range r.active {
		if p.Type == candidate.Type && p.Source == candidate.Source &&
			now.Sub(p.DetectedAt) < dedupWindow {
			r.totals.RejectedDuplicate++
			return nil, ErrDuplicate
		}
	}

	// Capacity: critical and emergency candidates are always admitted;
	// a full engine must still react to a crisis.
	if len(r.active) >= maxActive && candidate.Severity < types.SeverityCritical {
		r.totals.RejectedCapacity++
		return nil, ErrCapacityExceeded
	}

	problem := &types.Problem{
		ID:          r.mintID(candidate.Type),
		Type:        candidate.Type,
		Severity:    candidate.Severity,
		Description: candidate.Description,
		Source:      candidate.Source,
		Subsystems:  candidate.Subsystems,
		Attributes:  candidate.Attributes,
		Metrics:     candidate.Metrics,
		DetectedAt:  now,
		Status:      types.StatusDetected,
	}
	r.active[problem.ID] = problem
	r.totals.Admitted++

	return problem.Clone(), nil
}

// mintID builds a unique problem identifier from the type and a
// process-wide monotonic counter.
func (r *Registry) mintID(t types.ProblemType) string {
	return fmt.Sprintf("%s-%06d", t, r.seq.Add(1))
}

// Get returns a clone of a problem, looking first at the active set and
// then at history.
func (r *Registry) Get(id string) (*types.Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.active[id]; ok {
		return p.Clone(), nil
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].ID == id {
			return r.history[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListActive returns clones of all active problems in unspecified order.
func (r *Registry) ListActive() []*types.Problem {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Problem, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, p.Clone())
	}
	return out
}

// ActiveCount returns the number of active problems.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CriticalOrWorseCount returns the number of active problems at critical
// severity or above.
func (r *Registry) CriticalOrWorseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, p := range r.active {
		if p.Severity >= types.SeverityCritical {
			count++
		}
	}
	return count
}

// Transition moves an active problem forward in its lifecycle. Backward
// or skipping moves return ErrInvalidTransition; terminal problems return
// ErrTerminalStatus.
func (r *Registry) Transition(id string, next types.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return r.terminalOrNotFound(id)
	}
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, p.Status)
	}
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, next, id)
	}
	p.Status = next
	return nil
}

// Assign records the responsible handler and chosen strategy, moving the
// problem from DETECTED to ASSIGNED.
func (r *Registry) Assign(id, handler, strategy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return r.terminalOrNotFound(id)
	}
	if !p.Status.CanTransition(types.StatusAssigned) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, types.StatusAssigned, id)
	}
	p.Status = types.StatusAssigned
	p.AssignedTo = handler
	p.Strategy = strategy
	return nil
}

// AppendAttempt records a completed resolution attempt. Attempts are
// append-only; completed entries are never rewritten.
func (r *Registry) AppendAttempt(id string, attempt types.ResolutionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return r.terminalOrNotFound(id)
	}
	p.Attempts = append(p.Attempts, attempt)
	return nil
}

// Retire marks an IN_PROGRESS problem RESOLVED, stamps ResolvedAt, moves
// it to history, and updates the resolution totals. It returns a clone of
// the retired problem.
func (r *Registry) Retire(id string) (*types.Problem, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return nil, r.terminalOrNotFound(id)
	}
	if !p.Status.CanTransition(types.StatusResolved) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, types.StatusResolved, id)
	}

	p.Status = types.StatusResolved
	p.ResolvedAt = now
	r.moveToHistoryLocked(p)
	r.totals.Resolved++
	r.totals.CumulativeResolutionLatency += now.Sub(p.DetectedAt)

	return p.Clone(), nil
}

// MarkFailed marks a problem FAILED with the given reason, moves it to
// history, and updates totals. The problem stays visible in history but
// is never retried automatically; the condition has to be re-detected.
func (r *Registry) MarkFailed(id, reason string) (*types.Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.active[id]
	if !ok {
		return nil, r.terminalOrNotFound(id)
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, p.Status)
	}

	p.Status = types.StatusFailed
	if reason != "" {
		if last := p.LastAttempt(); last == nil || last.Reason == "" {
			r.logger.Debug("problem failed without attempt detail", "id", id, "reason", reason)
		}
	}
	r.moveToHistoryLocked(p)
	r.totals.Failed++

	return p.Clone(), nil
}

// History returns clones of up to limit terminal problems, newest last.
// limit <= 0 returns everything retained.
func (r *Registry) History(limit int) []*types.Problem {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]*types.Problem, 0, limit)
	for _, p := range r.history[len(r.history)-limit:] {
		out = append(out, p.Clone())
	}
	return out
}

// Totals returns a copy of the running counters.
func (r *Registry) Totals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}

// moveToHistoryLocked removes p from the active set and appends it to
// the bounded history ring. Caller holds r.mu.
func (r *Registry) moveToHistoryLocked(p *types.Problem) {
	delete(r.active, p.ID)
	r.history = append(r.history, p)
	if max := r.cfg.GetHistorySize(); len(r.history) > max {
		r.history = r.history[len(r.history)-max:]
	}
}

// terminalOrNotFound distinguishes "never existed" from "already
// terminal" for better error messages. Caller holds r.mu.
func (r *Registry) terminalOrNotFound(id string) error {
	for _, p := range r.history {
		if p.ID == id {
			return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, p.Status)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
