// Copyright 2025 Supabase, Inc.
// Modifications Copyright 2026 The Mend Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer records requested delays and fires immediately.
type instantTimer struct {
	delays []time.Duration
}

func (f *instantTimer) After(d time.Duration) <-chan time.Time {
	f.delays = append(f.delays, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// scriptedBackoff returns predetermined delays and records resets.
type scriptedBackoff struct {
	delays  []time.Duration
	attempt int
	resets  int
}

func (s *scriptedBackoff) nextDelay() time.Duration {
	i := s.attempt
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	s.attempt++
	return s.delays[i]
}

func (s *scriptedBackoff) reset() {
	s.resets++
	s.attempt = 0
}

func withBackoff(b backoff) Option {
	return func(c *retryConfig) { c.backoff = b }
}

func newScriptedRetry(delays []time.Duration, opts ...Option) (*Retry, *instantTimer, *scriptedBackoff) {
	sb := &scriptedBackoff{delays: delays}
	r := New(time.Millisecond, time.Minute, append([]Option{withBackoff(sb)}, opts...)...)
	ft := &instantTimer{}
	r.timer = ft
	return r, ft, sb
}

func TestNewDefaults(t *testing.T) {
	r := New(500*time.Millisecond, time.Minute)
	assert.Equal(t, 500*time.Millisecond, r.cfg.BaseDelay)
	assert.Equal(t, time.Minute, r.cfg.MaxDelay)
	assert.IsType(t, &exponentialFullJitterBackoff{}, r.cfg.backoff)
	assert.Equal(t, 0, r.Attempt())
}

func TestNewValidation(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Minute) })
	assert.Panics(t, func() { New(-time.Second, time.Minute) })
	assert.Panics(t, func() { New(time.Second, 0) })
	assert.Panics(t, func() { New(time.Minute, time.Second) })
	assert.NotPanics(t, func() { New(time.Second, time.Minute, WithInitialDelay()) })
}

func TestStartAttemptWaitsFromSecondAttempt(t *testing.T) {
	delays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	r, ft, _ := newScriptedRetry(delays)
	ctx := context.Background()

	require.NoError(t, r.StartAttempt(ctx))
	assert.Empty(t, ft.delays, "first attempt must not wait")

	require.NoError(t, r.StartAttempt(ctx))
	require.NoError(t, r.StartAttempt(ctx))
	assert.Equal(t, delays, ft.delays)
	assert.Equal(t, 3, r.Attempt())
}

func TestStartAttemptInitialDelay(t *testing.T) {
	r, ft, _ := newScriptedRetry([]time.Duration{10 * time.Millisecond}, WithInitialDelay())

	require.NoError(t, r.StartAttempt(context.Background()))
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, ft.delays)
}

func TestStartAttemptCancelledContext(t *testing.T) {
	r, _, _ := newScriptedRetry([]time.Duration{10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.StartAttempt(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Attempt(), "cancelled attempt must not count")
}

func TestStartAttemptCancelledDuringWait(t *testing.T) {
	r := New(50*time.Millisecond, time.Minute,
		withBackoff(newExponentialBackoffNoJitter(50*time.Millisecond, time.Minute)))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.StartAttempt(ctx))
	cancel()
	assert.ErrorIs(t, r.StartAttempt(ctx), context.Canceled)
	assert.Equal(t, 1, r.Attempt())
}

func TestResetRestartsBackoffNotAttempts(t *testing.T) {
	r, _, sb := newScriptedRetry([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond})
	ctx := context.Background()

	for range 3 {
		require.NoError(t, r.StartAttempt(ctx))
	}
	r.Reset()
	require.NoError(t, r.StartAttempt(ctx))

	assert.Equal(t, 1, sb.resets)
	assert.Equal(t, 4, r.Attempt(), "attempt counter is monotonic across Reset")
}

func TestAttemptsIterator(t *testing.T) {
	r := New(10*time.Millisecond, 100*time.Millisecond)
	r.timer = &instantTimer{}

	count := 0
	for attempt, err := range r.Attempts(context.Background()) {
		require.NoError(t, err)
		count++
		assert.Equal(t, count, attempt)
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestAttemptsIteratorStopsOnContextError(t *testing.T) {
	r := New(10*time.Millisecond, 100*time.Millisecond)
	r.timer = &instantTimer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var lastErr error
	for attempt, err := range r.Attempts(ctx) {
		if err != nil {
			lastErr = err
			break
		}
		if attempt == 2 {
			cancel()
		}
	}
	assert.True(t, errors.Is(lastErr, context.Canceled))
	assert.Equal(t, 2, r.Attempt())
}
