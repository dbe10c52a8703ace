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
	"fmt"
	"log/slog"
	"sync"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// RestartFunc restarts a named subsystem. The host process registers one
// per subsystem it knows how to bounce.
type RestartFunc func(ctx context.Context) error

// Supervisor restarts the subsystems a problem names, using hooks the
// embedding process registered. Without a hook for a subsystem it fails
// cleanly rather than pretending a restart happened.
type Supervisor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	restarts map[string]RestartFunc
}

// NewSupervisor creates the restart handler with no hooks registered.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger:   logger,
		restarts: make(map[string]RestartFunc),
	}
}

// RegisterRestart installs the restart hook for a subsystem, replacing
// any previous one.
func (h *Supervisor) RegisterRestart(subsystem string, fn RestartFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restarts[subsystem] = fn
}

func (h *Supervisor) Name() string { return SubsystemSupervisor }

func (h *Supervisor) Metadata() Metadata {
	return Metadata{Description: "restart affected subsystems through host-registered restart hooks"}
}

func (h *Supervisor) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	if len(problem.Subsystems) == 0 {
		return fmt.Errorf("problem names no subsystems to restart")
	}
	for _, name := range problem.Subsystems {
		h.mu.RLock()
		fn, ok := h.restarts[name]
		h.mu.RUnlock()
		if !ok {
			return fmt.Errorf("no restart hook registered for subsystem %q", name)
		}
		h.logger.InfoContext(ctx, "restarting subsystem", "problem", problem.ID, "subsystem", name)
		if err := fn(ctx); err != nil {
			return fmt.Errorf("restart of %q failed: %w", name, err)
		}
	}
	return nil
}

// QuarantineFunc isolates a suspect subsystem or resource. The host
// registers it; the warden refuses to claim success without one.
type QuarantineFunc func(ctx context.Context, problem *types.Problem) error

// Warden quarantines security threats through a host-registered hook.
type Warden struct {
	logger *slog.Logger

	mu         sync.RWMutex
	quarantine QuarantineFunc
}

// NewWarden creates the quarantine handler with no hook installed.
func NewWarden(logger *slog.Logger) *Warden {
	return &Warden{logger: logger}
}

// SetQuarantine installs the quarantine hook.
func (h *Warden) SetQuarantine(fn QuarantineFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quarantine = fn
}

func (h *Warden) Name() string { return SecurityWarden }

func (h *Warden) Metadata() Metadata {
	return Metadata{Description: "quarantine a suspected security threat through a host-registered hook"}
}

func (h *Warden) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	h.mu.RLock()
	fn := h.quarantine
	h.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("no quarantine hook registered")
	}
	h.logger.WarnContext(ctx, "quarantining threat",
		"problem", problem.ID,
		"severity", problem.Severity.String(),
		"subsystems", problem.Subsystems,
	)
	return fn(ctx, problem)
}
