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

package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
}

func newRecordStore() *Store[string, *record] {
	return New[string, *record](func(r *record) *record {
		if r == nil {
			return nil
		}
		c := *r
		return &c
	})
}

func TestGetSet(t *testing.T) {
	s := newRecordStore()

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Set("a", &record{Name: "a", Count: 1})
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, &record{Name: "a", Count: 1}, got)
	assert.Equal(t, 1, s.Len())
}

func TestCloneOnBoundary(t *testing.T) {
	s := newRecordStore()

	in := &record{Name: "a"}
	s.Set("a", in)
	in.Count = 99

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0, got.Count, "mutating the caller's copy must not reach the store")

	got.Count = 42
	again, _ := s.Get("a")
	assert.Equal(t, 0, again.Count, "mutating a returned copy must not reach the store")
}

func TestUpdateInsertsAndMutates(t *testing.T) {
	s := New[string, record](func(r record) record { return r })

	// Absent key starts from the zero value.
	s.Update("a", func(r record) record {
		r.Count++
		return r
	})
	s.Update("a", func(r record) record {
		r.Count++
		return r
	})

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, got.Count)
}

func TestUpdateIsAtomic(t *testing.T) {
	s := New[string, int](func(n int) int { return n })

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				s.Update("counter", func(n int) int { return n + 1 })
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get("counter")
	assert.Equal(t, 1000, got)
}

func TestDelete(t *testing.T) {
	s := newRecordStore()
	s.Set("a", &record{})

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, 0, s.Len())
}

func TestClear(t *testing.T) {
	s := newRecordStore()
	s.Set("a", &record{})
	s.Set("b", &record{})

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestRange(t *testing.T) {
	s := newRecordStore()
	s.Set("a", &record{Name: "a"})
	s.Set("b", &record{Name: "b"})
	s.Set("c", &record{Name: "c"})

	seen := map[string]bool{}
	s.Range(func(k string, v *record) bool {
		seen[k] = true
		v.Count = 7 // clone, must not stick
		return true
	})
	assert.Len(t, seen, 3)

	got, _ := s.Get("a")
	assert.Equal(t, 0, got.Count)
}

func TestRangeStopsEarly(t *testing.T) {
	s := newRecordStore()
	s.Set("a", &record{})
	s.Set("b", &record{})
	s.Set("c", &record{})

	visited := 0
	s.Range(func(string, *record) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
