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
	"sync"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// Governor sheds load by raising a shed level that host code polls to
// reject or defer discretionary work. Remediation raises the level in
// proportion to severity; the host relaxes it again once the underlying
// problem resolves.
type Governor struct {
	logger *slog.Logger

	mu    sync.Mutex
	level int
}

// MaxShedLevel is the ceiling the governor raises to; 0 means no
// shedding.
const MaxShedLevel = 3

// NewGovernor creates the load-shedding handler at level 0.
func NewGovernor(logger *slog.Logger) *Governor {
	return &Governor{logger: logger}
}

func (h *Governor) Name() string { return ThrottleGovernor }

func (h *Governor) Metadata() Metadata {
	return Metadata{Description: "raise the load-shedding level in proportion to problem severity"}
}

// Level returns the current shed level. Hosts poll it on their hot
// paths to decide how much discretionary work to drop.
func (h *Governor) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// Relax lowers the shed level by one step, bottoming out at 0. Wired to
// problem resolution so shedding unwinds as pressure clears.
func (h *Governor) Relax() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.level > 0 {
		h.level--
	}
}

func (h *Governor) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	target := shedTarget(problem.Severity)
	h.mu.Lock()
	if target > h.level {
		h.level = target
	}
	level := h.level
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "shed level applied",
		"problem", problem.ID,
		"severity", problem.Severity.String(),
		"level", level,
	)
	return nil
}

func shedTarget(sev types.Severity) int {
	switch {
	case sev >= types.SeverityCritical:
		return MaxShedLevel
	case sev >= types.SeverityHigh:
		return 2
	default:
		return 1
	}
}
