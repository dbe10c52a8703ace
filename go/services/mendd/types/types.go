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

// Package types contains shared types for the remediation engine.
// This package exists to avoid circular dependencies between the registry,
// catalog, dispatch, and handler packages.
package types

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ProblemType identifies the category of problem.
// Multiple probes can report the same ProblemType.
// This enables many-to-one mapping: many signals, one remediation path.
type ProblemType string

const (
	// Resource problems (detected by the machine probes).
	ProblemPerformanceDegradation ProblemType = "performance-degradation"
	ProblemMemoryPressure         ProblemType = "memory-pressure"
	ProblemStorageExhaustion      ProblemType = "storage-exhaustion"
	ProblemResourceExhaustion     ProblemType = "resource-exhaustion"
	ProblemRunawayLoop            ProblemType = "runaway-loop"

	// Connectivity problems.
	ProblemNetworkLoss ProblemType = "network-loss"
	ProblemSyncFailure ProblemType = "sync-failure"

	// Subsystem and integrity problems (mostly host-reported).
	ProblemSubsystemFailure ProblemType = "subsystem-failure"
	ProblemDataCorruption   ProblemType = "data-corruption"
	ProblemCrashRecovery    ProblemType = "crash-recovery"
	ProblemDuplicateCrisis  ProblemType = "duplicate-crisis"

	// Access and interaction problems.
	ProblemSecurityThreat   ProblemType = "security-threat"
	ProblemPermissionDenied ProblemType = "permission-denied"
	ProblemUIUnresponsive   ProblemType = "ui-unresponsive"
	ProblemWorkflowBlocked  ProblemType = "workflow-blocked"
)

// AllProblemTypes returns every known problem type in declaration order.
// The catalog uses this to verify that every type has at least one strategy.
func AllProblemTypes() []ProblemType {
	return []ProblemType{
		ProblemPerformanceDegradation,
		ProblemMemoryPressure,
		ProblemStorageExhaustion,
		ProblemResourceExhaustion,
		ProblemRunawayLoop,
		ProblemNetworkLoss,
		ProblemSyncFailure,
		ProblemSubsystemFailure,
		ProblemDataCorruption,
		ProblemCrashRecovery,
		ProblemDuplicateCrisis,
		ProblemSecurityThreat,
		ProblemPermissionDenied,
		ProblemUIUnresponsive,
		ProblemWorkflowBlocked,
	}
}

// KnownProblemType reports whether t is one of the declared problem types.
func KnownProblemType(t ProblemType) bool {
	return slices.Contains(AllProblemTypes(), t)
}

// Severity ranks how urgent a problem is.
// Higher values are more urgent and influence both admission
// (critical and above bypass the capacity limit) and strategy selection.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

var severityNames = map[Severity]string{
	SeverityLow:       "low",
	SeverityMedium:    "medium",
	SeverityHigh:      "high",
	SeverityCritical:  "critical",
	SeverityEmergency: "emergency",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the declared severity levels.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity converts a severity name back to its level.
func ParseSeverity(name string) (Severity, error) {
	for s, n := range severityNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// Status tracks a problem through its lifecycle. Transitions only move
// forward: DETECTED -> ASSIGNED -> IN_PROGRESS -> RESOLVED or FAILED.
type Status string

const (
	StatusDetected   Status = "DETECTED"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status is an end state.
// Terminal problems never change again.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

var validTransitions = map[Status][]Status{
	StatusDetected:   {StatusAssigned},
	StatusAssigned:   {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusResolved, StatusFailed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(validTransitions[s], next)
}

// Well-known attribute keys shared between probes and handlers.
const (
	// AttrFailedEndpoints lists unreachable endpoints as a comma-separated
	// host:port string.
	AttrFailedEndpoints = "failed_endpoints"
)

// Candidate is a probe's report of a suspected problem. The registry decides
// whether a candidate becomes a tracked Problem.
type Candidate struct {
	Type        ProblemType
	Severity    Severity
	Description string
	Source      string            // name of the probe that produced it
	Subsystems  []string          // affected subsystem names
	Attributes  map[string]string // string context (paths, endpoints, ...)
	Metrics     map[string]float64
}

// Validate checks that the candidate carries enough information to admit.
func (c Candidate) Validate() error {
	if !KnownProblemType(c.Type) {
		return fmt.Errorf("unknown problem type %q", c.Type)
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("invalid severity %d for %s candidate", c.Severity, c.Type)
	}
	if c.Source == "" {
		return fmt.Errorf("%s candidate has no source", c.Type)
	}
	return nil
}

// ResourceUsage is a snapshot of process resources taken when a
// remediation attempt completes.
type ResourceUsage struct {
	HeapBytes  uint64
	Goroutines int
}

// ResolutionAttempt records one execution of a strategy against a problem.
// Attempts are append-only; once CompletedAt is set the attempt never changes.
type ResolutionAttempt struct {
	Strategy    string
	Handler     string
	StartedAt   time.Time
	CompletedAt time.Time // zero while the attempt is still running
	Success     bool
	Reason      string // failure or timeout detail, empty on success
	Usage       ResourceUsage
}

// Problem is a tracked issue owned by the registry.
type Problem struct {
	ID          string
	Type        ProblemType
	Severity    Severity
	Description string
	Source      string   // probe that detected it
	Subsystems  []string // affected subsystem names
	Attributes  map[string]string
	Metrics     map[string]float64
	DetectedAt  time.Time

	Status     Status
	AssignedTo string // responsible handler, set on assignment
	Strategy   string // chosen strategy, set on assignment
	Attempts   []ResolutionAttempt
	ResolvedAt time.Time // set only when Status is RESOLVED
}

// Clone returns a deep copy. The registry hands out clones so callers never
// share mutable state with the canonical record.
func (p *Problem) Clone() *Problem {
	if p == nil {
		return nil
	}
	c := *p
	c.Subsystems = slices.Clone(p.Subsystems)
	c.Attributes = maps.Clone(p.Attributes)
	c.Metrics = maps.Clone(p.Metrics)
	c.Attempts = slices.Clone(p.Attempts)
	return &c
}

// LastAttempt returns the most recent resolution attempt, or nil if none.
func (p *Problem) LastAttempt() *ResolutionAttempt {
	if len(p.Attempts) == 0 {
		return nil
	}
	return &p.Attempts[len(p.Attempts)-1]
}

// Strategy describes one way to remediate a class of problems.
type Strategy struct {
	Name string

	// Handlers lists the handlers this strategy may run, in preference order.
	Handlers []string

	// EstimatedDuration is the expected wall time to complete.
	// Used by strategy selection for low and medium severity problems.
	EstimatedDuration time.Duration

	// SuccessProbability in [0, 1], from operator experience or defaults.
	SuccessProbability float64

	// Fallback names another strategy to consider if this one fails.
	// The dispatcher records the reference; it never runs the fallback itself.
	Fallback string

	// RequiresApproval marks strategies too disruptive to run unattended
	// at high severity. Critical and emergency problems bypass this.
	RequiresApproval bool
}

// Clone returns a copy with its own handler slice.
func (s Strategy) Clone() Strategy {
	c := s
	c.Handlers = slices.Clone(s.Handlers)
	return c
}

// SystemHealth is the aggregator's derived view of the engine.
// It is observational only; nothing in the engine acts on it.
type SystemHealth struct {
	// Score is the overall health in [0, 1]; 1 is fully healthy.
	Score float64

	// HandlerScores maps handler name to its health in [0, 1].
	HandlerScores map[string]float64

	CriticalCount int // active problems at critical severity or worse
	ActiveCount   int // all active problems

	ResolvedInWindow     int // problems resolved since the previous recompute
	AvgResolutionLatency time.Duration

	// LoadEstimate is the most recent system load signal in [0, 1],
	// published by the pressure probes. Zero when no probe reports it.
	LoadEstimate float64

	Emergency  bool
	ComputedAt time.Time
}

// Clone returns a deep copy of the snapshot.
func (h SystemHealth) Clone() SystemHealth {
	c := h
	c.HandlerScores = maps.Clone(h.HandlerScores)
	return c
}
