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

// Package events is the observability surface of the engine. Every
// admission, rejection, resolution, failure, and emergency transition is
// published here for dashboards and logging; the engine itself never acts
// on an event.
package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// Kind classifies an event.
type Kind string

const (
	ProblemAdmitted  Kind = "problem.admitted"
	ProblemRejected  Kind = "problem.rejected"
	ProblemResolved  Kind = "problem.resolved"
	ProblemFailed    Kind = "problem.failed"
	EmergencyEntered Kind = "emergency.entered"
	EmergencyExited  Kind = "emergency.exited"
	HealthRecomputed Kind = "health.recomputed"
)

// Event is a single observability record.
type Event struct {
	Kind Kind
	At   time.Time

	// Problem is set for problem.* events; it is a clone the subscriber
	// may keep.
	Problem *types.Problem

	// Reason is set for problem.rejected ("capacity" or "duplicate") and
	// problem.failed (attempt failure detail).
	Reason string

	// Health is set for health.recomputed events.
	Health *types.SystemHealth
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must return quickly.
type Handler func(Event)

// Emitter fans events out to subscribers and keeps a bounded ring of
// recent events for debug endpoints.
type Emitter struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]subscription
	recent []Event
	max    int
}

type subscription struct {
	handler Handler
	kinds   []Kind // empty means all kinds
}

// NewEmitter creates an emitter retaining up to ringSize recent events.
func NewEmitter(logger *slog.Logger, ringSize int) *Emitter {
	if ringSize <= 0 {
		ringSize = 64
	}
	return &Emitter{
		logger: logger,
		subs:   make(map[string]subscription),
		max:    ringSize,
	}
}

// Subscribe registers a handler and returns its subscription id.
// With no kinds the handler receives every event; otherwise only the
// listed kinds.
func (e *Emitter) Subscribe(handler Handler, kinds ...Kind) string {
	id := uuid.NewString()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[id] = subscription{handler: handler, kinds: kinds}
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}

// Emit delivers the event to all matching subscribers and records it in
// the recent ring. A panicking handler is logged and skipped; it cannot
// take down the control loop.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.Lock()
	e.recent = append(e.recent, ev)
	if len(e.recent) > e.max {
		e.recent = e.recent[len(e.recent)-e.max:]
	}
	handlers := make([]Handler, 0, len(e.subs))
	for _, sub := range e.subs {
		if len(sub.kinds) == 0 || slices.Contains(sub.kinds, ev.Kind) {
			handlers = append(handlers, sub.handler)
		}
	}
	e.mu.Unlock()

	// Handlers run outside the lock so a subscriber may Subscribe or
	// Unsubscribe from within its callback.
	for _, h := range handlers {
		e.invoke(h, ev)
	}
}

func (e *Emitter) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event subscriber panicked", "kind", string(ev.Kind), "panic", r)
		}
	}()
	h(ev)
}

// Recent returns up to limit most recent events, newest last.
// limit <= 0 returns everything retained.
func (e *Emitter) Recent(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	return slices.Clone(e.recent[len(e.recent)-limit:])
}
