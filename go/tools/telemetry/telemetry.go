// Copyright 2025 Supabase, Inc.
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

// Package telemetry wires the daemon into OpenTelemetry: traces, metrics,
// logs, and trace-aware slog output.
//
// Everything is driven by the standard OTEL_* environment variables. A
// daemon started without them exports nothing. A typical tracing setup:
//
//	OTEL_EXPORTER_OTLP_PROTOCOL="http/protobuf" \
//	  OTEL_EXPORTER_OTLP_ENDPOINT="http://localhost:4318" \
//	  OTEL_TRACES_SAMPLER=always_on \
//	  OTEL_TRACES_EXPORTER=otlp \
//	  mendd --grpc-port 15200
//
// A local Jaeger (http://localhost:16686/) receives those spans with:
//
//	$ docker run --rm -it --name jaeger-all-in-one \
//	    -e COLLECTOR_OTLP_ENABLED=true \
//	    -e COLLECTOR_OTLP_HTTP_PORT=4318 \
//	    -p 16686:16686 \
//	    -p 4318:4318 \
//	    jaegertracing/all-in-one:latest
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const tracingServiceName = "github.com/mendsys/mend"

var tracer = otel.Tracer(tracingServiceName)

// Tracer returns the shared tracer used for spans throughout the daemon.
func Tracer() trace.Tracer {
	return tracer
}

// Telemetry owns the SDK providers for one process.
type Telemetry struct {
	mu             sync.Mutex
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	initialized    bool

	// Test overrides, set via WithTestExporters.
	testSpanExporter sdktrace.SpanExporter
	testMetricReader sdkmetric.Reader
	testLogProcessor sdklog.Processor
}

// NewTelemetry returns an uninitialized Telemetry.
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// WithTestExporters substitutes in-memory exporters for the autoexport
// pipeline so tests can inspect emitted data. Call before InitTelemetry.
func (t *Telemetry) WithTestExporters(spanExporter sdktrace.SpanExporter, metricReader sdkmetric.Reader, logProcessor sdklog.Processor) *Telemetry {
	t.testSpanExporter = spanExporter
	t.testMetricReader = metricReader
	t.testLogProcessor = logProcessor
	return t
}

// defaultExporterToNone forces an unset OTEL_*_EXPORTER variable to "none"
// so that nothing is exported unless the operator asked for it.
func defaultExporterToNone(envVar string) {
	if os.Getenv(envVar) == "" {
		os.Setenv(envVar, "none")
	}
}

// InitTelemetry stands up the tracer, meter, and logger providers and
// registers them globally. serviceName becomes the service.name resource
// attribute unless OTEL_SERVICE_NAME overrides it; extra resource
// attributes may be passed via attrs. Calling it twice is a no-op.
func (t *Telemetry) InitTelemetry(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}

	if env := os.Getenv("OTEL_SERVICE_NAME"); env != "" {
		serviceName = env
	}

	// Built from scratch rather than merged with resource.Default() to
	// sidestep schema version conflicts between SDK releases.
	resourceAttrs := append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, attrs...)
	res := resource.NewWithAttributes(semconv.SchemaURL, resourceAttrs...)

	if err := t.initTracing(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := t.initMetrics(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := t.initLogs(ctx, res); err != nil {
		return fmt.Errorf("failed to initialize logs: %w", err)
	}

	// Outgoing HTTP through the default client picks up tracing and
	// metrics. Must run after both providers exist so otelhttp binds to
	// the ones configured above.
	http.DefaultClient.Transport = otelhttp.NewTransport(http.DefaultTransport)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.initialized = true
	slog.DebugContext(ctx, "OpenTelemetry initialized", "service", serviceName)
	return nil
}

func (t *Telemetry) initTracing(ctx context.Context, res *resource.Resource) error {
	var providerOpts []sdktrace.TracerProviderOption
	if t.testSpanExporter != nil {
		// Synchronous export keeps tests free of flush timing issues.
		providerOpts = []sdktrace.TracerProviderOption{
			sdktrace.WithSyncer(t.testSpanExporter),
			sdktrace.WithResource(res),
		}
	} else {
		defaultExporterToNone("OTEL_TRACES_EXPORTER")
		exporter, err := autoexport.NewSpanExporter(ctx)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		providerOpts = []sdktrace.TracerProviderOption{
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		}
	}

	// OTEL_TRACES_SAMPLER selects the sampler; the "mend_custom" value
	// picks the file-driven configurable sampler.
	sampler, err := maybeCreateCustomSampler()
	if err != nil {
		return err
	}
	if sampler != nil {
		providerOpts = append(providerOpts, sdktrace.WithSampler(sampler))
	}

	t.tracerProvider = sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(t.tracerProvider)
	return nil
}

func (t *Telemetry) initMetrics(ctx context.Context, res *resource.Resource) error {
	reader := t.testMetricReader
	if reader == nil {
		defaultExporterToNone("OTEL_METRICS_EXPORTER")
		var err error
		reader, err = autoexport.NewMetricReader(ctx)
		if err != nil {
			return fmt.Errorf("failed to create metric reader: %w", err)
		}
	}

	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(t.meterProvider)
	return nil
}

func (t *Telemetry) initLogs(ctx context.Context, res *resource.Resource) error {
	if t.testLogProcessor != nil {
		t.loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(t.testLogProcessor),
		)
		return nil
	}

	defaultExporterToNone("OTEL_LOGS_EXPORTER")
	exporter, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return fmt.Errorf("failed to create log exporter: %w", err)
	}

	// With the "none" exporter there is nothing to bridge to; skipping
	// the LoggerProvider lets WrapSlogHandler stay on the cheap path.
	if autoexport.IsNoneLogExporter(exporter) {
		return nil
	}

	t.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	return nil
}

// GetTracerProvider returns the configured TracerProvider, or the global
// one when InitTelemetry has not run.
func (t *Telemetry) GetTracerProvider() trace.TracerProvider {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// GetMeterProvider returns the configured MeterProvider, or the global
// one when InitTelemetry has not run.
func (t *Telemetry) GetMeterProvider() metric.MeterProvider {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return t.meterProvider
}

// ShutdownTelemetry flushes and stops every provider. Pending spans,
// metrics, and log records are exported before it returns.
func (t *Telemetry) ShutdownTelemetry(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil
	}

	slog.DebugContext(ctx, "Shutting down OpenTelemetry")

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown logger provider: %w", err))
		}
	}

	// Further calls become no-ops.
	t.initialized = false

	if len(errs) > 0 {
		return fmt.Errorf("errors during telemetry shutdown: %v", errs)
	}

	slog.DebugContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// WrapSlogHandler decorates handler with trace_id/span_id injection and,
// when a LoggerProvider exists, tees every record into the OTel log
// bridge so it is exported over OTLP alongside local output.
func (t *Telemetry) WrapSlogHandler(handler slog.Handler) slog.Handler {
	withTrace := &traceHandler{wrapped: handler}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loggerProvider == nil {
		return withTrace
	}

	return &compositeHandler{
		local: withTrace,
		otel:  otelslog.NewHandler(tracingServiceName, otelslog.WithLoggerProvider(t.loggerProvider)),
	}
}

// compositeHandler fans each record out to the local handler and the
// OTel bridge. A failure on one side does not suppress the other.
type compositeHandler struct {
	local slog.Handler
	otel  slog.Handler
}

func (h *compositeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || h.otel.Enabled(ctx, level)
}

func (h *compositeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if err := h.local.Handle(ctx, r); err != nil {
		errs = append(errs, fmt.Errorf("local handler: %w", err))
	}
	if err := h.otel.Handle(ctx, r); err != nil {
		errs = append(errs, fmt.Errorf("otel handler: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("composite handler errors: %v", errs)
	}
	return nil
}

func (h *compositeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &compositeHandler{
		local: h.local.WithAttrs(attrs),
		otel:  h.otel.WithAttrs(attrs),
	}
}

func (h *compositeHandler) WithGroup(name string) slog.Handler {
	return &compositeHandler{
		local: h.local.WithGroup(name),
		otel:  h.otel.WithGroup(name),
	}
}

// traceHandler stamps trace_id and span_id onto records logged inside an
// active span.
type traceHandler struct {
	wrapped slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.wrapped.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{wrapped: h.wrapped.WithGroup(name)}
}
