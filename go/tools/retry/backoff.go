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

package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// backoff produces the delay sequence for a retry loop. Implementations
// must be safe for reset() and nextDelay() from different goroutines.
type backoff interface {
	// nextDelay returns the next delay and advances internal state.
	nextDelay() time.Duration

	// reset rewinds the sequence to its starting delay.
	reset()
}

// exponentialFullJitterBackoff is the AWS "Full Jitter" scheme:
// sleep = random_between(0, min(cap, base * 2^attempt)). The full
// randomization keeps independent retriers from synchronizing into
// load spikes.
//
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type exponentialFullJitterBackoff struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	rng           *rand.Rand
	disableJitter bool

	mu      sync.Mutex
	attempt int
}

func newExponentialFullJitterBackoff(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()))),
	}
}

// newExponentialFullJitterBackoffWithRNG pins the RNG so tests can make
// the jitter deterministic.
func newExponentialFullJitterBackoffWithRNG(baseDelay, maxDelay time.Duration, rng *rand.Rand) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rng,
	}
}

// newExponentialBackoffNoJitter yields the raw doubling sequence, used
// by tests that assert exact delays.
func newExponentialBackoffNoJitter(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		disableJitter: true,
	}
}

func (e *exponentialFullJitterBackoff) nextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Shifting past 62 bits would overflow int64.
	attempt := min(e.attempt, 62)

	multiplier := int64(1 << attempt)
	base := int64(e.baseDelay)

	var delay time.Duration
	if base > 0 && multiplier > math.MaxInt64/base {
		delay = e.maxDelay
	} else {
		delay = min(time.Duration(base*multiplier), e.maxDelay)
	}

	// rand.Rand is not goroutine safe, so jitter stays under the lock.
	if !e.disableJitter {
		delay = time.Duration(float64(delay) * e.rng.Float64())
	}

	e.attempt++
	return delay
}

func (e *exponentialFullJitterBackoff) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = 0
}
