// Copyright 2025 Supabase, Inc.
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
//
// Modifications Copyright 2026 The Mend Authors.

// Package retry implements retry loops with exponential backoff and jitter.
package retry

import (
	"context"
	"time"
)

// Timer abstracts time.After so tests can run without real sleeps.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Retry tracks backoff state across the attempts of one retry loop.
//
//	r := retry.New(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err
//	    }
//	    if err := reloadCatalog(); err == nil {
//	        return nil
//	    }
//	}
type Retry struct {
	cfg     retryConfig
	attempt int
	timer   Timer
}

type retryConfig struct {
	// BaseDelay seeds the exponential curve (delay = BaseDelay * 2^attempt).
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// InitialDelay makes even the first attempt wait. Set it when the
	// caller already failed once before constructing the loop.
	InitialDelay bool

	// backoff computes the delay sequence. Full jitter unless a test
	// substitutes its own.
	backoff backoff
}

// Option configures a Retry.
type Option func(*retryConfig)

// WithInitialDelay makes the first StartAttempt wait instead of
// returning immediately.
func WithInitialDelay() Option {
	return func(c *retryConfig) { c.InitialDelay = true }
}

// New builds a Retry with exponential full-jitter backoff between
// baseDelay and maxDelay. Invalid durations are coding errors and panic.
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Retry {
	if baseDelay <= 0 {
		panic("retry: BaseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: MaxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: BaseDelay cannot be greater than MaxDelay")
	}

	cfg := retryConfig{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		backoff:   newExponentialFullJitterBackoff(baseDelay, maxDelay),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Retry{
		cfg:   cfg,
		timer: realTimer{},
	}
}

// StartAttempt blocks for the backoff delay before the next attempt.
// The first call returns immediately unless WithInitialDelay was set.
// A nil return means proceed; otherwise it is ctx.Err() from a cancel
// or deadline during the wait.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.attempt > 0 || r.cfg.InitialDelay {
		select {
		case <-r.timer.After(r.cfg.backoff.nextDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.attempt++
	return nil
}

// Attempt returns how many attempts have started. Zero before the first
// StartAttempt.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset drops the backoff back to the base delay. Call it once the
// watched resource has been healthy long enough that a new failure
// deserves a fresh curve. The attempt counter keeps counting.
func (r *Retry) Reset() {
	r.cfg.backoff.reset()
}

// Attempts adapts the loop to range-over-func form. Each iteration
// yields the attempt number and a nil error, or ctx.Err() once the
// context ends, at which point the caller is expected to break.
//
//	for attempt, err := range r.Attempts(ctx) {
//	    if err != nil {
//	        return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
//	    }
//	    if err := reloadCatalog(); err == nil {
//	        return nil
//	    }
//	}
func (r *Retry) Attempts(ctx context.Context) func(yield func(int, error) bool) {
	return func(yield func(int, error) bool) {
		for {
			err := r.StartAttempt(ctx)
			if !yield(r.attempt, err) {
				return
			}
		}
	}
}
