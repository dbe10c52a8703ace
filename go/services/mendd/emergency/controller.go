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

// Package emergency implements the engine's emergency mode latch.
//
// The first emergency-severity admission latches emergency mode and
// starts a single quiet window. Further emergency admissions while
// latched neither reset nor extend the window. When the window expires
// the controller re-checks for critical-or-worse problems: if any
// remain it arms one fresh window, otherwise it returns to normal.
package emergency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/types"
)

// timer is the stoppable handle returned by the controller's timer
// factory. time.AfterFunc satisfies it; tests substitute a fake.
type timer interface {
	Stop() bool
}

// Controller latches emergency mode. All methods are safe for
// concurrent use.
type Controller struct {
	config          *config.Config
	logger          *slog.Logger
	emitter         *events.Emitter
	criticalOrWorse func() int

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer

	mu          sync.Mutex
	active      bool
	windowEnds  time.Time
	activations uint64
	pending     timer
}

// Option configures the controller.
type Option func(*Controller)

// WithClock sets the time source. Useful for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithAfterFunc sets the timer factory used to schedule the quiet
// window expiry check.
func WithAfterFunc(afterFunc func(time.Duration, func()) timer) Option {
	return func(c *Controller) { c.afterFunc = afterFunc }
}

// NewController creates a controller in normal mode. criticalOrWorse
// reports how many active problems are at critical severity or above;
// it is consulted when a quiet window expires.
func NewController(cfg *config.Config, logger *slog.Logger, emitter *events.Emitter, criticalOrWorse func() int, opts ...Option) *Controller {
	c := &Controller{
		config:          cfg,
		logger:          logger,
		emitter:         emitter,
		criticalOrWorse: criticalOrWorse,
		now:             time.Now,
		afterFunc: func(d time.Duration, fn func()) timer {
			return time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NoteAdmission tells the controller about an admitted problem. Only
// emergency severity has any effect: the first one latches emergency
// mode, later ones while latched do not touch the open window.
func (c *Controller) NoteAdmission(ctx context.Context, problem *types.Problem) {
	if problem.Severity < types.SeverityEmergency {
		return
	}

	c.mu.Lock()
	if c.active {
		// Already latched: the window neither resets nor extends.
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "emergency re-entry ignored, window already open",
			"problem", problem.ID,
		)
		return
	}
	c.active = true
	c.activations++
	window := c.config.GetQuietWindow()
	c.windowEnds = c.now().Add(window)
	c.pending = c.afterFunc(window, c.onWindowExpired)
	c.mu.Unlock()

	c.logger.WarnContext(ctx, "emergency mode latched",
		"problem", problem.ID,
		"quiet_window", window,
	)
	c.emitter.Emit(events.Event{
		Kind:    events.EmergencyEntered,
		At:      c.now(),
		Problem: problem,
	})
}

// onWindowExpired runs when the quiet window elapses. If critical or
// worse problems remain, one fresh window is armed; otherwise the latch
// releases.
func (c *Controller) onWindowExpired() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	remaining := c.criticalOrWorse()
	if remaining > 0 {
		window := c.config.GetQuietWindow()
		c.windowEnds = c.now().Add(window)
		c.pending = c.afterFunc(window, c.onWindowExpired)
		c.mu.Unlock()
		c.logger.Warn("quiet window expired with unresolved critical problems, re-arming",
			"critical_or_worse", remaining,
			"quiet_window", window,
		)
		return
	}
	c.active = false
	c.pending = nil
	c.mu.Unlock()

	c.logger.Info("emergency mode released")
	c.emitter.Emit(events.Event{
		Kind: events.EmergencyExited,
		At:   c.now(),
	})
}

// Active reports whether emergency mode is latched.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activations returns how many times emergency mode has been entered
// since startup.
func (c *Controller) Activations() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}

// WindowEnds returns when the current quiet window expires. The zero
// time means no window is open.
func (c *Controller) WindowEnds() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return time.Time{}
	}
	return c.windowEnds
}

// Stop cancels any pending window timer. Called on engine shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
