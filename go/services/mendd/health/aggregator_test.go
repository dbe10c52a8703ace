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

package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/handlers"
	"github.com/mendsys/mend/go/services/mendd/registry"
	"github.com/mendsys/mend/go/services/mendd/types"
)

type testEnv struct {
	reg       *registry.Registry
	perf      *handlers.PerfStore
	emitter   *events.MockEmitter
	agg       *Aggregator
	emergency bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.NewTestConfig(config.WithMaxConcurrentProblems(100))
	env := &testEnv{
		reg:     registry.New(cfg, logger),
		perf:    handlers.NewPerfStore(),
		emitter: events.NewMockEmitter(),
	}
	env.agg = NewAggregator(logger, env.reg, env.perf, env.emitter.Emitter,
		func() bool { return env.emergency })
	return env
}

func (e *testEnv) admit(t *testing.T, n int, sev types.Severity) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.reg.Admit(types.Candidate{
			Type:        types.ProblemPerformanceDegradation,
			Severity:    sev,
			Description: "slow",
			Source:      fmt.Sprintf("probe-%s-%d", sev, i),
		})
		require.NoError(t, err)
	}
}

func TestRecomputeHealthyBaseline(t *testing.T) {
	env := newTestEnv(t)
	h := env.agg.Recompute(context.Background())
	assert.Equal(t, 1.0, h.Score)
	assert.Equal(t, 0, h.ActiveCount)
	assert.Len(t, env.emitter.EventsOfKind(events.HealthRecomputed), 1)
}

func TestRecomputeScorePerActiveProblem(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 3, types.SeverityLow)

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 0.7, h.Score, 1e-9)
	assert.Equal(t, 3, h.ActiveCount)
	assert.Equal(t, 0, h.CriticalCount)
}

func TestRecomputeActivePenaltyCapped(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 9, types.SeverityLow)

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 0.5, h.Score, 1e-9, "active-problem penalty caps at 0.5")
}

func TestRecomputeCriticalPenalty(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 1, types.SeverityCritical)

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 0.7, h.Score, 1e-9, "0.1 active penalty plus 0.2 critical penalty")
	assert.Equal(t, 1, h.CriticalCount)
}

func TestRecomputeCriticalPenaltyPerProblem(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 2, types.SeverityCritical)

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 0.4, h.Score, 1e-9, "each critical problem costs 0.2 on top of the active penalty")
	assert.Equal(t, 2, h.CriticalCount)
}

func TestRecomputeScoreFloor(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 9, types.SeverityCritical)

	h := env.agg.Recompute(context.Background())
	assert.Equal(t, 0.0, h.Score, "accumulated penalties clamp to zero")
}

func TestRecomputeHandlerScores(t *testing.T) {
	env := newTestEnv(t)
	env.perf.Record("good-handler", true, time.Millisecond)
	env.perf.Record("good-handler", true, time.Millisecond)
	env.perf.Record("good-handler", false, time.Millisecond)

	for i := 0; i < config.UnhealthyAfterConsecutiveFailures; i++ {
		env.perf.Record("bad-handler", false, time.Millisecond)
	}

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 2.0/3.0, h.HandlerScores["good-handler"], 1e-9)
	assert.InDelta(t, config.DegradedHandlerScore, h.HandlerScores["bad-handler"], 1e-9,
		"an unhealthy handler reports the degraded score regardless of history")
}

func TestRecomputeResolvedInWindow(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 2, types.SeverityLow)

	for _, p := range env.reg.ListActive() {
		require.NoError(t, env.reg.Assign(p.ID, "generic-medic", "wait-and-reprobe"))
		require.NoError(t, env.reg.Transition(p.ID, types.StatusInProgress))
		_, err := env.reg.Retire(p.ID)
		require.NoError(t, err)
	}

	h := env.agg.Recompute(context.Background())
	assert.Equal(t, 2, h.ResolvedInWindow)

	// The next window starts fresh.
	h = env.agg.Recompute(context.Background())
	assert.Equal(t, 0, h.ResolvedInWindow)
}

func TestRecomputeCarriesLoadAndEmergency(t *testing.T) {
	env := newTestEnv(t)
	env.agg.ObserveLoad(0.42)
	env.emergency = true

	h := env.agg.Recompute(context.Background())
	assert.InDelta(t, 0.42, h.LoadEstimate, 1e-9)
	assert.True(t, h.Emergency)

	env.agg.ObserveLoad(3.0)
	h = env.agg.Recompute(context.Background())
	assert.Equal(t, 1.0, h.LoadEstimate, "load estimate is clamped to [0, 1]")
}

func TestLatestReturnsIndependentCopy(t *testing.T) {
	env := newTestEnv(t)
	env.perf.Record("h", true, time.Millisecond)
	env.agg.Recompute(context.Background())

	first := env.agg.Latest()
	first.HandlerScores["h"] = -1

	second := env.agg.Latest()
	assert.Equal(t, 1.0, second.HandlerScores["h"])
}
