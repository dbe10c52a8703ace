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

package handlers

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// genericMedic is the default handler: it records the problem context,
// nudges the runtime, and reports success. It exists so every problem
// type has a safe remediation path even before a host wires anything
// domain-specific.
type genericMedic struct {
	logger *slog.Logger
}

// NewGenericMedic creates the default catch-all handler.
func NewGenericMedic(logger *slog.Logger) RemediationHandler {
	return &genericMedic{logger: logger}
}

func (h *genericMedic) Name() string { return GenericMedic }

func (h *genericMedic) Metadata() Metadata {
	return Metadata{Description: "default remediation: log context, collect garbage, report success"}
}

func (h *genericMedic) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	h.logger.InfoContext(ctx, "generic remediation",
		"problem", problem.ID,
		"type", string(problem.Type),
		"severity", problem.Severity.String(),
		"strategy", strategy.Name,
		"subsystems", problem.Subsystems,
	)
	runtime.GC()
	return nil
}

// memoryReclaimer returns heap to the OS and reports how much it got back.
type memoryReclaimer struct {
	logger *slog.Logger
}

// NewMemoryReclaimer creates the memory-pressure handler.
func NewMemoryReclaimer(logger *slog.Logger) RemediationHandler {
	return &memoryReclaimer{logger: logger}
}

func (h *memoryReclaimer) Name() string { return MemoryReclaimer }

func (h *memoryReclaimer) Metadata() Metadata {
	return Metadata{Description: "force garbage collection and return freed heap to the OS"}
}

func (h *memoryReclaimer) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	var reclaimed uint64
	if before.HeapInuse > after.HeapInuse {
		reclaimed = before.HeapInuse - after.HeapInuse
	}
	h.logger.InfoContext(ctx, "memory reclaimed",
		"problem", problem.ID,
		"reclaimed_bytes", reclaimed,
		"heap_inuse_bytes", after.HeapInuse,
	)
	return nil
}
