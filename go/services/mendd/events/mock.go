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

package events

import (
	"log/slog"
	"slices"
	"sync"
)

// MockEmitter records every emitted event for test assertions.
type MockEmitter struct {
	*Emitter

	mu   sync.Mutex
	seen []Event
}

// NewMockEmitter creates an emitter that captures all events.
func NewMockEmitter() *MockEmitter {
	m := &MockEmitter{
		Emitter: NewEmitter(slog.Default(), 1024),
	}
	m.Subscribe(func(ev Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.seen = append(m.seen, ev)
	})
	return m
}

// Events returns a copy of everything emitted so far.
func (m *MockEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.seen)
}

// EventsOfKind returns emitted events matching the given kind.
func (m *MockEmitter) EventsOfKind(kind Kind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.seen {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards captured events.
func (m *MockEmitter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = nil
}
