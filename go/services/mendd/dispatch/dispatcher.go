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

// Package dispatch runs remediation attempts: it assigns a handler and
// strategy to an admitted problem, executes the handler under a
// severity-scaled deadline, and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mendsys/mend/go/services/mendd/catalog"
	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/handlers"
	"github.com/mendsys/mend/go/services/mendd/metrics"
	"github.com/mendsys/mend/go/services/mendd/registry"
	"github.com/mendsys/mend/go/services/mendd/types"
	"github.com/mendsys/mend/go/tools/telemetry"
)

// defaultHandlerForType is the fixed accountability map from problem
// type to responsible handler. The handler-map config overrides entries;
// types absent from both fall through to the configured default handler.
var defaultHandlerForType = map[types.ProblemType]string{
	types.ProblemMemoryPressure:         handlers.MemoryReclaimer,
	types.ProblemStorageExhaustion:      handlers.StorageJanitor,
	types.ProblemResourceExhaustion:     handlers.ThrottleGovernor,
	types.ProblemPerformanceDegradation: handlers.ThrottleGovernor,
	types.ProblemRunawayLoop:            handlers.LoopBreaker,
	types.ProblemNetworkLoss:            handlers.NetworkDoctor,
	types.ProblemSyncFailure:            handlers.NetworkDoctor,
	types.ProblemSubsystemFailure:       handlers.SubsystemSupervisor,
	types.ProblemCrashRecovery:          handlers.SubsystemSupervisor,
	types.ProblemSecurityThreat:         handlers.SecurityWarden,
	types.ProblemPermissionDenied:       handlers.SecurityWarden,
}

// Attempt outcome labels for metrics.
const (
	statusSuccess   = "success"
	statusFailure   = "failure"
	statusTimeout   = "timeout"
	statusCancelled = "cancelled"
	statusPanic     = "panic"
)

// Dispatcher executes remediation for admitted problems. Safe for use
// by multiple workers concurrently.
type Dispatcher struct {
	config   *config.Config
	logger   *slog.Logger
	reg      *registry.Registry
	catalog  *catalog.Catalog
	handlers *handlers.Registry
	perf     *handlers.PerfStore
	emitter  *events.Emitter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	cfg *config.Config,
	logger *slog.Logger,
	reg *registry.Registry,
	cat *catalog.Catalog,
	handlerReg *handlers.Registry,
	perf *handlers.PerfStore,
	emitter *events.Emitter,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		config:   cfg,
		logger:   logger,
		reg:      reg,
		catalog:  cat,
		handlers: handlerReg,
		perf:     perf,
		emitter:  emitter,
		metrics:  m,
		now:      time.Now,
	}
}

// ResponsibleHandler resolves the handler accountable for a problem
// type: the handler-map config first, then the builtin map, then the
// configured default handler.
func (d *Dispatcher) ResponsibleHandler(t types.ProblemType) string {
	if override, ok := d.config.GetHandlerMap()[string(t)]; ok && override != "" {
		return override
	}
	if name, ok := defaultHandlerForType[t]; ok {
		return name
	}
	return d.config.GetDefaultHandler()
}

// Process runs one remediation attempt for the problem. The problem
// ends up terminal (RESOLVED or FAILED) unless it disappeared or was
// already terminal, which is a no-op.
func (d *Dispatcher) Process(ctx context.Context, id string) {
	problem, err := d.reg.Get(id)
	if err != nil {
		d.logger.WarnContext(ctx, "problem vanished before dispatch", "problem", id, "error", err)
		return
	}
	if problem.Status.Terminal() {
		return
	}

	responsible := d.ResponsibleHandler(problem.Type)
	strategy, err := d.catalog.Select(problem.Type, problem.Severity)
	if err != nil {
		// Catalog validation makes this unreachable for known types;
		// it guards problems admitted before a catalog swap.
		d.fail(ctx, problem, responsible, types.Strategy{}, fmt.Sprintf("no strategy: %v", err))
		return
	}

	executing := executingHandler(responsible, strategy)
	handler, ok := d.handlers.Get(executing)
	if !ok {
		d.fail(ctx, problem, executing, strategy, fmt.Sprintf("handler %q not registered", executing))
		return
	}

	if err := d.reg.Assign(id, responsible, strategy.Name); err != nil {
		d.logger.WarnContext(ctx, "assignment lost", "problem", id, "error", err)
		return
	}
	if err := d.reg.Transition(id, types.StatusInProgress); err != nil {
		d.logger.WarnContext(ctx, "problem not dispatchable", "problem", id, "error", err)
		return
	}

	d.logger.InfoContext(ctx, "remediation started",
		"problem", id,
		"type", string(problem.Type),
		"severity", problem.Severity.String(),
		"strategy", strategy.Name,
		"handler", executing,
	)

	attempt := d.execute(ctx, problem, handler, strategy)
	latency := attempt.CompletedAt.Sub(attempt.StartedAt)

	if err := d.reg.AppendAttempt(id, attempt); err != nil {
		d.logger.WarnContext(ctx, "failed to record attempt", "problem", id, "error", err)
	}
	d.perf.Record(executing, attempt.Success, latency)

	if attempt.Success {
		resolved, err := d.reg.Retire(id)
		if err != nil {
			d.logger.WarnContext(ctx, "failed to retire problem", "problem", id, "error", err)
			return
		}
		d.metrics.Resolved(ctx, problem.Type)
		d.logger.InfoContext(ctx, "problem resolved",
			"problem", id,
			"strategy", strategy.Name,
			"handler", executing,
			"duration", latency,
		)
		d.emitter.Emit(events.Event{
			Kind:    events.ProblemResolved,
			At:      d.now(),
			Problem: resolved,
		})
		return
	}

	if strategy.Fallback != "" {
		// The fallback is advisory: logged for the operator, never run.
		d.logger.WarnContext(ctx, "remediation failed, fallback available",
			"problem", id,
			"strategy", strategy.Name,
			"fallback", strategy.Fallback,
			"reason", attempt.Reason,
		)
	}
	d.fail(ctx, problem, executing, strategy, attempt.Reason)
}

// execute runs the handler under the severity-scaled deadline with
// panic recovery, and returns the completed attempt record.
func (d *Dispatcher) execute(ctx context.Context, problem *types.Problem, handler handlers.RemediationHandler, strategy types.Strategy) types.ResolutionAttempt {
	timeout := d.config.GetStandardTimeout()
	if problem.Severity >= types.SeverityEmergency {
		timeout = d.config.GetEmergencyTimeout()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "remediate/attempt",
		trace.WithAttributes(
			attribute.String("problem.id", problem.ID),
			attribute.String("problem.type", string(problem.Type)),
			attribute.String("problem.severity", problem.Severity.String()),
			attribute.String("strategy", strategy.Name),
			attribute.String("handler", handler.Name()),
		))
	defer span.End()

	attempt := types.ResolutionAttempt{
		Strategy:  strategy.Name,
		Handler:   handler.Name(),
		StartedAt: d.now(),
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- handler.Remediate(execCtx, problem, strategy)
	}()

	var status string
	select {
	case err := <-done:
		attempt.CompletedAt = d.now()
		switch {
		case err == nil:
			attempt.Success = true
			status = statusSuccess
		default:
			attempt.Reason = err.Error()
			status = statusFailure
			if isPanicReason(err) {
				status = statusPanic
			}
		}
	case <-execCtx.Done():
		attempt.CompletedAt = d.now()
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			attempt.Reason = fmt.Sprintf("timeout: deadline %s exceeded", timeout)
			status = statusTimeout
		} else {
			attempt.Reason = "cancelled: remediation abandoned"
			status = statusCancelled
		}
	}
	attempt.Usage = captureUsage()

	latency := attempt.CompletedAt.Sub(attempt.StartedAt)
	d.metrics.AttemptDuration(ctx, latency, handler.Name(), problem.Type, status)
	if attempt.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, attempt.Reason)
	}
	span.SetAttributes(attribute.String("status", status))
	return attempt
}

// fail marks the problem FAILED and publishes the failure.
func (d *Dispatcher) fail(ctx context.Context, problem *types.Problem, handler string, strategy types.Strategy, reason string) {
	failed, err := d.reg.MarkFailed(problem.ID, reason)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to mark problem failed", "problem", problem.ID, "error", err)
		return
	}
	d.metrics.Failed(ctx, problem.Type)
	d.logger.WarnContext(ctx, "problem failed",
		"problem", problem.ID,
		"type", string(problem.Type),
		"strategy", strategy.Name,
		"handler", handler,
		"reason", reason,
	)
	d.emitter.Emit(events.Event{
		Kind:    events.ProblemFailed,
		At:      d.now(),
		Problem: failed,
		Reason:  reason,
	})
}

// executingHandler picks the handler that actually runs: the
// responsible one when the strategy lists it, otherwise the strategy's
// first choice.
func executingHandler(responsible string, strategy types.Strategy) string {
	for _, h := range strategy.Handlers {
		if h == responsible {
			return responsible
		}
	}
	if len(strategy.Handlers) > 0 {
		return strategy.Handlers[0]
	}
	return responsible
}

func isPanicReason(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "handler panic")
}

func captureUsage() types.ResourceUsage {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return types.ResourceUsage{
		HeapBytes:  mem.HeapInuse,
		Goroutines: runtime.NumGoroutine(),
	}
}
