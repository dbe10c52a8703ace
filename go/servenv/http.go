// Copyright 2023 The Vitess Authors.
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
//
// Modifications Copyright 2026 The Mend Authors

package servenv

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPHandle registers the given handler for the internal servenv mux.
func (se *ServEnv) HTTPHandle(pattern string, handler http.Handler) {
	se.mux.Handle(pattern, handler)
}

// HTTPHandleFunc registers the given handler func for the internal servenv mux.
func (se *ServEnv) HTTPHandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	se.mux.HandleFunc(pattern, handler)
}

// HTTPServe starts the HTTP server for the internal servenv mux on the
// listener. It returns once the listener closes.
func (se *ServEnv) HTTPServe(l net.Listener) error {
	slog.Info("listening for HTTP calls", "addr", l.Addr().String())

	// If no OTel exporters are configured, noop exporters are used with
	// minimal overhead.
	handler := otelhttp.NewHandler(se.mux, "http-server")

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// HTTPRegisterPprofProfile registers the default pprof HTTP endpoints with
// the internal servenv mux, gated on the pprof-http flag.
func (se *ServEnv) HTTPRegisterPprofProfile() {
	if !se.httpPprof.Get() {
		return
	}

	se.HTTPHandleFunc("/debug/pprof/", pprof.Index)
	se.HTTPHandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	se.HTTPHandleFunc("/debug/pprof/profile", pprof.Profile)
	se.HTTPHandleFunc("/debug/pprof/symbol", pprof.Symbol)
	se.HTTPHandleFunc("/debug/pprof/trace", pprof.Trace)
}

// HTTPRegisterHealth registers liveness and readiness endpoints. livez
// always answers ok once the process serves HTTP; healthz consults ready.
func (se *ServEnv) HTTPRegisterHealth(ready func() bool) {
	se.HTTPHandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	se.HTTPHandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not serving", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
