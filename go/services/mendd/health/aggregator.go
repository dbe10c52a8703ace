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

// Package health computes the aggregate system health snapshot from the
// registry, the per-handler performance counters, and the load signal
// published by the pressure probes.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/handlers"
	"github.com/mendsys/mend/go/services/mendd/registry"
	"github.com/mendsys/mend/go/services/mendd/types"
)

// Aggregator recomputes the health snapshot on the health interval and
// keeps the latest one for readers.
type Aggregator struct {
	logger    *slog.Logger
	reg       *registry.Registry
	perf      *handlers.PerfStore
	emitter   *events.Emitter
	emergency func() bool
	now       func() time.Time

	mu           sync.Mutex
	latest       types.SystemHealth
	loadEstimate float64
	lastResolved uint64
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithClock sets the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator. emergency reports whether
// emergency mode is latched; it is sampled at recompute time.
func NewAggregator(logger *slog.Logger, reg *registry.Registry, perf *handlers.PerfStore, emitter *events.Emitter, emergency func() bool, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:    logger,
		reg:       reg,
		perf:      perf,
		emitter:   emitter,
		emergency: emergency,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.latest = types.SystemHealth{Score: 1.0, ComputedAt: a.now()}
	return a
}

// ObserveLoad publishes the most recent load signal in [0, 1]. Values
// outside the range are clamped.
func (a *Aggregator) ObserveLoad(load float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loadEstimate = clamp01(load)
}

// Latest returns the most recently computed snapshot.
func (a *Aggregator) Latest() types.SystemHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneHealth(a.latest)
}

// Score returns the latest overall health score. Used by the gRPC
// health service and the metrics gauge.
func (a *Aggregator) Score() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest.Score
}

// Recompute builds a fresh snapshot and emits a health.recomputed
// event. The overall score starts at 1.0, loses 0.1 per active problem
// up to a 0.5 cap, loses a further 0.2 per active problem at critical
// severity or worse, and is clamped to [0, 1].
func (a *Aggregator) Recompute(ctx context.Context) types.SystemHealth {
	active := a.reg.ActiveCount()
	critical := a.reg.CriticalOrWorseCount()
	totals := a.reg.Totals()

	score := 1.0 - min(0.5, 0.1*float64(active)) - 0.2*float64(critical)
	score = clamp01(score)

	handlerScores := make(map[string]float64)
	a.perf.Range(func(name string, p *handlers.Performance) bool {
		if p.Healthy() {
			handlerScores[name] = p.SuccessRate()
		} else {
			handlerScores[name] = config.DegradedHandlerScore
		}
		return true
	})

	var avgLatency time.Duration
	if totals.Resolved > 0 {
		avgLatency = totals.CumulativeResolutionLatency / time.Duration(totals.Resolved)
	}

	a.mu.Lock()
	resolvedInWindow := int(totals.Resolved - a.lastResolved)
	a.lastResolved = totals.Resolved

	snapshot := types.SystemHealth{
		Score:                score,
		HandlerScores:        handlerScores,
		CriticalCount:        critical,
		ActiveCount:          active,
		ResolvedInWindow:     resolvedInWindow,
		AvgResolutionLatency: avgLatency,
		LoadEstimate:         a.loadEstimate,
		Emergency:            a.emergency(),
		ComputedAt:           a.now(),
	}
	a.latest = snapshot
	a.mu.Unlock()

	a.logger.DebugContext(ctx, "health recomputed",
		"score", score,
		"active", active,
		"critical_or_worse", critical,
		"resolved_in_window", resolvedInWindow,
	)
	published := cloneHealth(snapshot)
	a.emitter.Emit(events.Event{
		Kind:   events.HealthRecomputed,
		At:     snapshot.ComputedAt,
		Health: &published,
	})
	return cloneHealth(snapshot)
}

func cloneHealth(h types.SystemHealth) types.SystemHealth {
	c := h
	if h.HandlerScores != nil {
		c.HandlerScores = make(map[string]float64, len(h.HandlerScores))
		for k, v := range h.HandlerScores {
			c.HandlerScores[k] = v
		}
	}
	return c
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
