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

// Package store provides a generic thread-safe in-memory key-value store
// with clone-on-access semantics.
package store

import "sync"

// Store is a mutex-guarded map that clones values on every boundary
// crossing: callers always hold a private copy, and the store only ever
// holds its own canonical one.
type Store[K comparable, V any] struct {
	mu    sync.Mutex
	clone func(V) V
	items map[K]V
}

// New creates a store using the given clone function for all values that
// cross the store boundary.
func New[K comparable, V any](clone func(V) V) *Store[K, V] {
	return &Store[K, V]{
		clone: clone,
		items: make(map[K]V),
	}
}

// Get retrieves a value by key. Returns a clone of the value and a
// boolean indicating whether the key exists. The returned value is safe
// to mutate without affecting the stored copy.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return s.clone(v), true
}

// Set stores a clone of the value for the given key, overwriting any
// existing entry. The caller can keep mutating the passed value without
// affecting the stored copy.
func (s *Store[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = s.clone(value)
}

// Update applies fn to the stored value under the lock, inserting the
// zero value first if the key is absent. fn receives the canonical copy,
// so in-place mutation is the intended use. This keeps read-modify-write
// sequences (counter bumps) atomic without a second lock round-trip.
func (s *Store[K, V]) Update(key K, fn func(v V) V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = fn(s.items[key])
}

// Delete removes a value by key. Returns true if the key existed.
func (s *Store[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.items[key]
	delete(s.items, key)
	return existed
}

// Len returns the number of items in the store.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear removes all items from the store.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[K]V)
}

// Range iterates over all key-value pairs while holding the lock. Each
// value passed to the callback is a clone, safe to mutate. Iteration
// stops early if the callback returns false.
func (s *Store[K, V]) Range(fn func(key K, value V) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.items {
		if !fn(k, s.clone(v)) {
			return
		}
	}
}
