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
// Modifications Copyright 2026 The Mend Authors

package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testTelemetry wires a Telemetry to in-memory exporters and restores
// the globals InitTelemetry mutates once the test finishes.
type testTelemetry struct {
	Telemetry    *Telemetry
	SpanExporter *tracetest.InMemoryExporter
	MetricReader *sdkmetric.ManualReader
}

func newTestTelemetry(t *testing.T) *testTelemetry {
	t.Helper()

	originalTransport := http.DefaultClient.Transport
	originalTracerProvider := otel.GetTracerProvider()
	originalMeterProvider := otel.GetMeterProvider()
	originalPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		http.DefaultClient.Transport = originalTransport
		otel.SetTracerProvider(originalTracerProvider)
		otel.SetMeterProvider(originalMeterProvider)
		otel.SetTextMapPropagator(originalPropagator)
	})

	// Logs stay on the env-driven path, which defaults to none.
	t.Setenv("OTEL_LOGS_EXPORTER", "none")

	spanExporter := tracetest.NewInMemoryExporter()
	metricReader := sdkmetric.NewManualReader()

	return &testTelemetry{
		Telemetry:    NewTelemetry().WithTestExporters(spanExporter, metricReader, nil),
		SpanExporter: spanExporter,
		MetricReader: metricReader,
	}
}

func TestNewTelemetry(t *testing.T) {
	tel := NewTelemetry()
	require.NotNil(t, tel)
	assert.False(t, tel.initialized)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
}

func TestInitTelemetryAndShutdown(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))
	assert.True(t, setup.Telemetry.initialized)
	assert.NotNil(t, setup.Telemetry.tracerProvider)
	assert.NotNil(t, setup.Telemetry.meterProvider)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
	assert.False(t, setup.Telemetry.initialized)
}

func TestInitTelemetryServiceNameEnvOverride(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "service-from-env")

	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "ignored-name"))
	assert.True(t, setup.Telemetry.initialized)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
}

func TestInitTelemetryIdempotent(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))
	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "different-service"))
	assert.True(t, setup.Telemetry.initialized)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
}

func TestGetTracerProvider(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	// Before init it falls back to the global provider.
	before := setup.Telemetry.GetTracerProvider()
	require.NotNil(t, before)

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))

	after := setup.Telemetry.GetTracerProvider()
	assert.Equal(t, setup.Telemetry.tracerProvider, after)
	assert.NotEqual(t, before, after)

	require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
}

func TestInitTelemetrySetsGlobalTracerProvider(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))
	t.Cleanup(func() {
		require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
	})

	require.Equal(t, setup.Telemetry.GetTracerProvider(), otel.GetTracerProvider())

	// Spans created through the global tracer land in the test exporter.
	_, span := otel.Tracer("test-tracer").Start(ctx, "test-span")
	span.End()

	spans := setup.SpanExporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test-span", spans[0].Name)
}

func TestShutdownTelemetryBeforeInit(t *testing.T) {
	setup := newTestTelemetry(t)
	require.NoError(t, setup.Telemetry.ShutdownTelemetry(context.Background()))
}

func TestShutdownTelemetryWithTimeout(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))

	_, span := otel.Tracer("test").Start(ctx, "test-span")
	span.End()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, setup.Telemetry.ShutdownTelemetry(shutdownCtx))
}

func TestWrapSlogHandlerInjectsTraceContext(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))
	t.Cleanup(func() {
		require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
	})

	var gotTraceID, gotSpanID string
	base := &recordingHandler{
		onHandle: func(_ context.Context, r slog.Record) error {
			r.Attrs(func(a slog.Attr) bool {
				switch a.Key {
				case "trace_id":
					gotTraceID = a.Value.String()
				case "span_id":
					gotSpanID = a.Value.String()
				}
				return true
			})
			return nil
		},
	}

	spanCtx, span := otel.Tracer("test").Start(ctx, "test-span")
	defer span.End()

	slog.New(setup.Telemetry.WrapSlogHandler(base)).InfoContext(spanCtx, "test message")

	sc := span.SpanContext()
	assert.Equal(t, sc.TraceID().String(), gotTraceID)
	assert.Equal(t, sc.SpanID().String(), gotSpanID)
}

func TestWrapSlogHandlerWithoutSpan(t *testing.T) {
	setup := newTestTelemetry(t)
	ctx := context.Background()

	require.NoError(t, setup.Telemetry.InitTelemetry(ctx, "test-service"))
	t.Cleanup(func() {
		require.NoError(t, setup.Telemetry.ShutdownTelemetry(ctx))
	})

	var sawTraceAttrs bool
	base := &recordingHandler{
		onHandle: func(_ context.Context, r slog.Record) error {
			r.Attrs(func(a slog.Attr) bool {
				if a.Key == "trace_id" || a.Key == "span_id" {
					sawTraceAttrs = true
				}
				return true
			})
			return nil
		},
	}

	slog.New(setup.Telemetry.WrapSlogHandler(base)).InfoContext(ctx, "no span here")

	assert.False(t, sawTraceAttrs, "trace attributes should not appear without an active span")
}

// recordingHandler is a minimal slog.Handler that forwards records to a
// callback.
type recordingHandler struct {
	onHandle func(context.Context, slog.Record) error
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.onHandle != nil {
		return h.onHandle(ctx, r)
	}
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
