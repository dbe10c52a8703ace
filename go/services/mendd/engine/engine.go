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

// Package engine composes the detection, dispatch, health, and
// emergency components into the running control loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mendsys/mend/go/services/mendd/catalog"
	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/dispatch"
	"github.com/mendsys/mend/go/services/mendd/emergency"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/handlers"
	"github.com/mendsys/mend/go/services/mendd/health"
	"github.com/mendsys/mend/go/services/mendd/metrics"
	"github.com/mendsys/mend/go/services/mendd/probes"
	"github.com/mendsys/mend/go/services/mendd/queue"
	"github.com/mendsys/mend/go/services/mendd/registry"
	"github.com/mendsys/mend/go/services/mendd/types"
	"github.com/mendsys/mend/go/tools/ctxutil"
	"github.com/mendsys/mend/go/tools/telemetry"
)

// runIfNotRunning executes fn in a goroutine only if inProgress flag is
// false. If the operation is already in progress, it logs a debug
// message and returns immediately. This prevents pile-up of concurrent
// cycles when one runs slow. The goroutine runs under wg so shutdown
// waits for an in-flight cycle.
func runIfNotRunning(logger *slog.Logger, wg *sync.WaitGroup, inProgress *atomic.Bool, taskName string, fn func()) {
	if !inProgress.CompareAndSwap(false, true) {
		logger.Debug("skipping task, previous run still in progress", "task", taskName)
		return
	}
	wg.Go(func() {
		defer inProgress.Store(false)
		fn()
	})
}

// Engine runs the autonomous detection and remediation control loop.
//
// Three kinds of goroutines run under it:
//
//   - the detection loop samples every probe each DetectionInterval and
//     feeds admitted problems into the dispatch queue;
//   - DispatchWorkers workers consume the queue and remediate, one
//     problem at a time each;
//   - the health loop recomputes the aggregate snapshot each
//     HealthInterval.
//
// Ticker callbacks are CAS-guarded: a cycle that outlasts its interval
// is skipped, not stacked.
type Engine struct {
	config  *config.Config
	logger  *slog.Logger
	emitter *events.Emitter

	reg        *registry.Registry
	catalog    *catalog.Catalog
	handlerReg *handlers.Registry
	perf       *handlers.PerfStore
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	aggregator *health.Aggregator
	emergency  *emergency.Controller
	metrics    *metrics.Metrics

	mu     sync.Mutex
	probes []probes.Probe

	detectionInProgress atomic.Bool
	healthInProgress    atomic.Bool

	started     atomic.Bool
	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewEngine composes an engine. meter may be nil (noop metrics).
// The probe set may be empty; hosts can rely on Report alone.
func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	cat *catalog.Catalog,
	handlerReg *handlers.Registry,
	probeSet []probes.Probe,
	emitter *events.Emitter,
	meter metric.Meter,
) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:      cfg,
		logger:      logger,
		emitter:     emitter,
		catalog:     cat,
		handlerReg:  handlerReg,
		probes:      probeSet,
		perf:        handlers.NewPerfStore(),
		queue:       queue.NewQueue(logger, cfg),
		shutdownCtx: ctx,
		cancel:      cancel,
	}
	e.reg = registry.New(cfg, logger)
	e.emergency = emergency.NewController(cfg, logger, emitter, e.reg.CriticalOrWorseCount)
	e.aggregator = health.NewAggregator(logger, e.reg, e.perf, emitter, e.emergency.Active)

	var err error
	e.metrics, err = metrics.NewMetrics(meter, logger, metrics.Observables{
		ActiveProblems:  func() int64 { return int64(e.reg.ActiveCount()) },
		HealthScore:     e.aggregator.Score,
		EmergencyActive: e.emergency.Active,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	e.dispatcher = dispatch.NewDispatcher(cfg, logger, e.reg, cat, handlerReg, e.perf, emitter, e.metrics)
	return e, nil
}

// Start launches the control loop. Calling Start twice is a no-op.
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("starting engine",
		"detection_interval", e.config.GetDetectionInterval(),
		"health_interval", e.config.GetHealthInterval(),
		"dispatch_workers", e.config.GetDispatchWorkers(),
		"max_concurrent_problems", e.config.GetMaxConcurrentProblems(),
		"probes", e.probeNames(),
	)

	workers := e.config.GetDispatchWorkers()
	for range workers {
		e.wg.Go(func() {
			e.runDispatchWorker()
		})
	}
	e.wg.Go(func() {
		e.runDetectionLoop()
	})
	e.wg.Go(func() {
		e.runHealthLoop()
	})

	e.logger.Info("engine started", "workers", workers)
	return nil
}

// Stop cancels the loops and waits for them. In-flight remediation
// finishes or hits its deadline; no attempt is abandoned mid-record.
func (e *Engine) Stop() {
	e.logger.Info("stopping engine")
	e.cancel()
	e.wg.Wait()
	e.emergency.Stop()
	e.logger.Info("engine stopped")
}

// Report is the host-facing admission path. It applies the same
// dedup/capacity policy as probe detections and enqueues the problem on
// success. The returned problem is a clone.
//
// The caller's context deadline does not govern remediation; only its
// trace linkage is kept.
func (e *Engine) Report(ctx context.Context, candidate types.Candidate) (*types.Problem, error) {
	ctx, span := ctxutil.StartLinkedSpan(ctxutil.Detach(ctx), telemetry.Tracer(), "engine/report")
	defer span.End()
	return e.admit(ctx, candidate)
}

// Health returns the latest aggregate snapshot.
func (e *Engine) Health() types.SystemHealth {
	return e.aggregator.Latest()
}

// EmergencyActive reports whether emergency mode is latched.
func (e *Engine) EmergencyActive() bool {
	return e.emergency.Active()
}

// EmergencyActivations returns the emergency entry count since startup.
func (e *Engine) EmergencyActivations() uint64 {
	return e.emergency.Activations()
}

// GetProblem looks up a problem by id, active or historical.
func (e *Engine) GetProblem(id string) (*types.Problem, error) {
	return e.reg.Get(id)
}

// ActiveProblems returns clones of all active problems.
func (e *Engine) ActiveProblems() []*types.Problem {
	return e.reg.ListActive()
}

// History returns up to limit terminal problems, newest last.
func (e *Engine) History(limit int) []*types.Problem {
	return e.reg.History(limit)
}

// Totals returns the registry's running counters.
func (e *Engine) Totals() registry.Totals {
	return e.reg.Totals()
}

// ObserveLoad publishes a load signal in [0, 1] to the aggregator.
// Exposed for probes and hosts with their own load source.
func (e *Engine) ObserveLoad(load float64) {
	e.aggregator.ObserveLoad(load)
}

// admit runs the admission policy and wires the outcome into the
// queue, the emergency controller, events, and metrics.
func (e *Engine) admit(ctx context.Context, candidate types.Candidate) (*types.Problem, error) {
	problem, err := e.reg.Admit(candidate)
	if err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, registry.ErrDuplicate):
			reason = "duplicate"
		case errors.Is(err, registry.ErrCapacityExceeded):
			reason = "capacity"
		}
		if reason != "invalid" {
			e.metrics.Rejected(ctx, candidate.Type, reason)
			e.emitter.Emit(events.Event{
				Kind:   events.ProblemRejected,
				At:     time.Now(),
				Reason: reason,
			})
		}
		return nil, err
	}

	e.metrics.Admitted(ctx, problem.Type)
	e.logger.InfoContext(ctx, "problem admitted",
		"problem", problem.ID,
		"type", string(problem.Type),
		"severity", problem.Severity.String(),
		"source", problem.Source,
	)
	e.emitter.Emit(events.Event{
		Kind:    events.ProblemAdmitted,
		At:      time.Now(),
		Problem: problem,
	})
	e.emergency.NoteAdmission(ctx, problem)
	e.queue.Push(problem.ID)
	return problem, nil
}

// runDetectionLoop samples all probes each DetectionInterval.
func (e *Engine) runDetectionLoop() {
	ticker := time.NewTicker(e.config.GetDetectionInterval())
	defer ticker.Stop()

	e.logger.Info("detection loop started")

	// First cycle immediately so a freshly started daemon reacts to
	// existing conditions without waiting a full interval.
	e.detectionCycle()

	for {
		select {
		case <-e.shutdownCtx.Done():
			e.logger.Info("detection loop stopped")
			return
		case <-ticker.C:
			runIfNotRunning(e.logger, &e.wg, &e.detectionInProgress, "detection_cycle", e.detectionCycle)
		}
	}
}

// detectionCycle samples every probe once. A probe error skips that
// probe for this cycle only.
func (e *Engine) detectionCycle() {
	ctx := e.shutdownCtx

	e.mu.Lock()
	probeSet := make([]probes.Probe, len(e.probes))
	copy(probeSet, e.probes)
	e.mu.Unlock()

	for _, probe := range probeSet {
		if ctx.Err() != nil {
			return
		}
		candidates, err := probe.Sample(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "probe failed, skipping this cycle", "probe", probe.Name(), "error", err)
			continue
		}
		for _, candidate := range candidates {
			if _, err := e.admit(ctx, candidate); err != nil {
				e.logger.DebugContext(ctx, "candidate rejected",
					"probe", probe.Name(),
					"type", string(candidate.Type),
					"error", err,
				)
			}
		}
	}
}

// runDispatchWorker consumes the queue until shutdown.
func (e *Engine) runDispatchWorker() {
	for {
		id, release, ok := e.queue.Consume(e.shutdownCtx)
		if !ok {
			return
		}
		// Detached so shutdown does not abandon the attempt mid-flight;
		// the handler still runs under its own deadline.
		e.dispatcher.Process(ctxutil.Detach(e.shutdownCtx), id)
		release()
	}
}

// runHealthLoop recomputes the aggregate snapshot each HealthInterval.
func (e *Engine) runHealthLoop() {
	ticker := time.NewTicker(e.config.GetHealthInterval())
	defer ticker.Stop()

	e.logger.Info("health loop started")

	for {
		select {
		case <-e.shutdownCtx.Done():
			e.logger.Info("health loop stopped")
			return
		case <-ticker.C:
			runIfNotRunning(e.logger, &e.wg, &e.healthInProgress, "health_recompute", func() {
				e.aggregator.Recompute(e.shutdownCtx)
			})
		}
	}
}

func (e *Engine) probeNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.probes))
	for _, p := range e.probes {
		names = append(names, p.Name())
	}
	return names
}
