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

// Package metrics defines the OpenTelemetry instruments for the
// remediation engine. Wrapper types hide attribute key names from
// instrumented code.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// Observables supplies the current values for the engine's gauges. The
// callbacks run on the meter's collection schedule and must be safe for
// concurrent use.
type Observables struct {
	ActiveProblems  func() int64
	HealthScore     func() float64
	EmergencyActive func() bool
}

// Metrics holds all OpenTelemetry instruments for the engine.
type Metrics struct {
	admitted        ProblemCounter
	rejected        RejectedCounter
	resolved        ProblemCounter
	failed          ProblemCounter
	attemptDuration AttemptDuration

	activeProblems  metric.Int64ObservableGauge
	healthScore     metric.Float64ObservableGauge
	emergencyActive metric.Int64ObservableGauge
}

// ProblemCounter wraps an Int64Counter keyed by problem type.
type ProblemCounter struct {
	metric.Int64Counter
}

// Add increments the counter for one problem of the given type.
func (c ProblemCounter) Add(ctx context.Context, problemType types.ProblemType) {
	c.Int64Counter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("problem.type", string(problemType))))
}

// RejectedCounter wraps an Int64Counter keyed by rejection reason.
type RejectedCounter struct {
	metric.Int64Counter
}

// Add increments the counter with the rejection reason ("duplicate" or
// "capacity").
func (c RejectedCounter) Add(ctx context.Context, problemType types.ProblemType, reason string) {
	c.Int64Counter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("problem.type", string(problemType)),
			attribute.String("reason", reason),
		))
}

// AttemptDuration wraps a Float64Histogram recording remediation attempt
// durations with the handler, problem type, and outcome status.
type AttemptDuration struct {
	metric.Float64Histogram
}

// Record records one remediation attempt. status is "success",
// "failure", "timeout", or "panic".
func (m AttemptDuration) Record(ctx context.Context, duration time.Duration, handler string, problemType types.ProblemType, status string) {
	m.Float64Histogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("handler", handler),
			attribute.String("problem.type", string(problemType)),
			attribute.String("status", status),
		))
}

// Admitted records a problem admission.
func (m *Metrics) Admitted(ctx context.Context, problemType types.ProblemType) {
	m.admitted.Add(ctx, problemType)
}

// Rejected records a rejected candidate.
func (m *Metrics) Rejected(ctx context.Context, problemType types.ProblemType, reason string) {
	m.rejected.Add(ctx, problemType, reason)
}

// Resolved records a successful resolution.
func (m *Metrics) Resolved(ctx context.Context, problemType types.ProblemType) {
	m.resolved.Add(ctx, problemType)
}

// Failed records a terminally failed problem.
func (m *Metrics) Failed(ctx context.Context, problemType types.ProblemType) {
	m.failed.Add(ctx, problemType)
}

// AttemptDuration records one remediation attempt duration.
func (m *Metrics) AttemptDuration(ctx context.Context, duration time.Duration, handler string, problemType types.ProblemType, status string) {
	m.attemptDuration.Record(ctx, duration, handler, problemType, status)
}

// NewMetrics initializes the engine's instruments. If meter is nil,
// returns noop implementations so instrumented code needs no nil checks.
func NewMetrics(meter metric.Meter, logger *slog.Logger, obs Observables) (*Metrics, error) {
	m := &Metrics{}

	if meter == nil {
		m.admitted = ProblemCounter{noop.Int64Counter{}}
		m.rejected = RejectedCounter{noop.Int64Counter{}}
		m.resolved = ProblemCounter{noop.Int64Counter{}}
		m.failed = ProblemCounter{noop.Int64Counter{}}
		m.attemptDuration = AttemptDuration{noop.Float64Histogram{}}
		return m, nil
	}

	var err error

	admitted, err := meter.Int64Counter(
		"mend.problems.admitted",
		metric.WithDescription("Problems admitted into the registry"),
		metric.WithUnit("{problems}"),
	)
	if err != nil {
		logger.Error("failed to create problems.admitted counter", "error", err)
		return nil, err
	}
	m.admitted = ProblemCounter{admitted}

	rejected, err := meter.Int64Counter(
		"mend.problems.rejected",
		metric.WithDescription("Candidates rejected at admission"),
		metric.WithUnit("{problems}"),
	)
	if err != nil {
		logger.Error("failed to create problems.rejected counter", "error", err)
		return nil, err
	}
	m.rejected = RejectedCounter{rejected}

	resolved, err := meter.Int64Counter(
		"mend.problems.resolved",
		metric.WithDescription("Problems resolved successfully"),
		metric.WithUnit("{problems}"),
	)
	if err != nil {
		logger.Error("failed to create problems.resolved counter", "error", err)
		return nil, err
	}
	m.resolved = ProblemCounter{resolved}

	failed, err := meter.Int64Counter(
		"mend.problems.failed",
		metric.WithDescription("Problems that failed terminally"),
		metric.WithUnit("{problems}"),
	)
	if err != nil {
		logger.Error("failed to create problems.failed counter", "error", err)
		return nil, err
	}
	m.failed = ProblemCounter{failed}

	attemptDuration, err := meter.Float64Histogram(
		"mend.remediation.attempt.duration",
		metric.WithDescription("Duration of individual remediation attempts"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("failed to create attempt.duration histogram", "error", err)
		return nil, err
	}
	m.attemptDuration = AttemptDuration{attemptDuration}

	m.activeProblems, err = meter.Int64ObservableGauge(
		"mend.problems.active",
		metric.WithDescription("Problems currently being tracked"),
		metric.WithUnit("{problems}"),
	)
	if err != nil {
		logger.Error("failed to create problems.active gauge", "error", err)
		return nil, err
	}

	m.healthScore, err = meter.Float64ObservableGauge(
		"mend.health.score",
		metric.WithDescription("Aggregate system health score between 0 and 1"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Error("failed to create health.score gauge", "error", err)
		return nil, err
	}

	m.emergencyActive, err = meter.Int64ObservableGauge(
		"mend.emergency.active",
		metric.WithDescription("Whether emergency mode is latched (0 or 1)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Error("failed to create emergency.active gauge", "error", err)
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if obs.ActiveProblems != nil {
				observer.ObserveInt64(m.activeProblems, obs.ActiveProblems())
			}
			if obs.HealthScore != nil {
				observer.ObserveFloat64(m.healthScore, obs.HealthScore())
			}
			if obs.EmergencyActive != nil {
				var v int64
				if obs.EmergencyActive() {
					v = 1
				}
				observer.ObserveInt64(m.emergencyActive, v)
			}
			return nil
		},
		m.activeProblems, m.healthScore, m.emergencyActive,
	)
	if err != nil {
		logger.Error("failed to register gauge callback", "error", err)
		return nil, err
	}

	return m, nil
}
