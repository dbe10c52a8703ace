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

package command

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mendsys/mend/go/services/mendd/catalog"
	"github.com/mendsys/mend/go/services/mendd/config"
	"github.com/mendsys/mend/go/services/mendd/engine"
	"github.com/mendsys/mend/go/services/mendd/events"
	"github.com/mendsys/mend/go/services/mendd/handlers"
	"github.com/mendsys/mend/go/services/mendd/probes"
)

const (
	// eventRingSize bounds the in-memory event history served on the
	// debug endpoint.
	eventRingSize = 256

	// servingThreshold is the health score below which the daemon
	// reports NOT_SERVING on the gRPC health service and /healthz.
	servingThreshold = 0.5
)

func (mc *MenddCommand) run(cmd *cobra.Command) error {
	mc.se.Init()
	logger := mc.se.GetLogger()

	if err := mc.se.InitTelemetry(cmd.Context(), "mendd"); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	fs := afero.NewOsFs()
	emitter := events.NewEmitter(logger, eventRingSize)

	handlerReg, governor, err := buildHandlers(logger, mc.cfg, fs)
	if err != nil {
		return fmt.Errorf("failed to build handler registry: %w", err)
	}

	cat, watcher, err := buildCatalog(logger, mc.cfg, fs, handlerReg.Known)
	if err != nil {
		return fmt.Errorf("failed to build strategy catalog: %w", err)
	}

	loadSink := &loadForward{}
	probeSet := buildProbes(mc.cfg, fs, loadSink.observe)

	meter := mc.se.Telemetry().GetMeterProvider().Meter("mend.engine")
	eng, err := engine.NewEngine(mc.cfg, logger, cat, handlerReg, probeSet, emitter, meter)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	loadSink.bind(eng.ObserveLoad)

	// Shedding unwinds as problems resolve, and the health service
	// follows the aggregate score.
	emitter.Subscribe(func(events.Event) { governor.Relax() }, events.ProblemResolved)
	emitter.Subscribe(func(ev events.Event) {
		mc.grpcServer.SetServing(ev.Health != nil && ev.Health.Score >= servingThreshold)
	}, events.HealthRecomputed)

	mc.se.HTTPRegisterPprofProfile()
	mc.se.HTTPRegisterHealth(func() bool {
		return eng.Health().Score >= servingThreshold
	})
	mc.registerDebugEndpoints(eng, emitter)

	mc.se.OnRunE(func() error {
		logger.Info("mendd starting up",
			"grpc_port", mc.grpcServer.Port(),
			"http_port", mc.se.GetHTTPPort(),
			"catalog_path", mc.cfg.GetCatalogPath(),
			"catalog_watch", watcher != nil,
		)
		if watcher != nil {
			watcher.Start()
		}
		return eng.Start()
	})
	mc.se.OnTermSync(func() {
		eng.Stop()
		if watcher != nil {
			watcher.Stop()
		}
	})
	mc.se.OnClose(func() {
		logger.Info("mendd shut down")
	})

	return mc.se.RunDefault(mc.grpcServer)
}

// buildHandlers registers the full builtin handler set. The governor is
// returned separately so problem resolution can relax the shed level.
func buildHandlers(logger *slog.Logger, cfg *config.Config, fs afero.Fs) (*handlers.Registry, *handlers.Governor, error) {
	reg := handlers.NewRegistry()
	governor := handlers.NewGovernor(logger)
	all := []handlers.RemediationHandler{
		handlers.NewGenericMedic(logger),
		handlers.NewMemoryReclaimer(logger),
		handlers.NewStorageJanitor(logger, fs, cfg.GetScratchDirs, cfg.GetScratchMaxAge),
		handlers.NewNetworkDoctor(logger, nil, cfg.GetNetEndpoints, cfg.GetNetDialTimeout),
		handlers.NewSupervisor(logger),
		handlers.NewWarden(logger),
		handlers.NewLoopBreaker(logger, fs, cfg.GetDumpDir),
		governor,
	}
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return nil, nil, err
		}
	}
	return reg, governor, nil
}

// buildCatalog loads the strategy table from the configured path, or
// falls back to the builtin table when no path is set. A watcher is
// returned only when hot reload is requested for a file-backed catalog.
func buildCatalog(logger *slog.Logger, cfg *config.Config, fs afero.Fs, handlerKnown func(string) bool) (*catalog.Catalog, *catalog.Watcher, error) {
	table := catalog.BuiltinTable()
	path := cfg.GetCatalogPath()
	if path != "" {
		var err error
		table, err = catalog.LoadTable(fs, path)
		if err != nil {
			return nil, nil, err
		}
	}
	cat, err := catalog.Build(table, handlerKnown)
	if err != nil {
		return nil, nil, err
	}
	var watcher *catalog.Watcher
	if path != "" && cfg.GetCatalogWatch() {
		watcher = catalog.NewWatcher(cat, fs, path, handlerKnown, logger)
	}
	return cat, watcher, nil
}

// buildProbes assembles the probe set. PSI is preferred for the load
// signal; /proc/loadavg is the fallback on systems without it.
func buildProbes(cfg *config.Config, fs afero.Fs, observeLoad func(float64)) []probes.Probe {
	set := []probes.Probe{
		probes.NewMeminfoProbe(fs, ""),
		probes.NewStorageProbe(cfg.GetMountPoints, nil),
		probes.NewNetcheckProbe(cfg.GetNetEndpoints, cfg.GetNetDialTimeout, nil),
		probes.NewRuntimeProbe(cfg.GetGoroutineThreshold),
	}
	pressure := probes.NewPressureProbe(fs, "", observeLoad)
	if pressure.Available() {
		return append(set, pressure)
	}
	return append(set, probes.NewLoadavgProbe(fs, "", observeLoad))
}

func (mc *MenddCommand) registerDebugEndpoints(eng *engine.Engine, emitter *events.Emitter) {
	mc.se.HTTPHandleFunc("/debug/mend/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.Health())
	})
	mc.se.HTTPHandleFunc("/debug/mend/problems", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.ActiveProblems())
	})
	mc.se.HTTPHandleFunc("/debug/mend/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.History(debugLimit(r, 50)))
	})
	mc.se.HTTPHandleFunc("/debug/mend/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, emitter.Recent(debugLimit(r, 100)))
	})
}

func debugLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// loadForward decouples probe construction from the engine that consumes
// the load signal; probes exist before the engine does.
type loadForward struct {
	mu sync.Mutex
	fn func(float64)
}

func (l *loadForward) observe(v float64) {
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

func (l *loadForward) bind(fn func(float64)) {
	l.mu.Lock()
	l.fn = fn
	l.mu.Unlock()
}
