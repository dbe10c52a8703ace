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

package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func sampledSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestDetachSurvivesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached := Detach(parent)
	cancel()

	require.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
}

func TestDetachPreservesBaggage(t *testing.T) {
	member, err := baggage.NewMember("service", "mendd")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)

	detached := Detach(baggage.ContextWithBaggage(context.Background(), bag))
	assert.Equal(t, "mendd", baggage.FromContext(detached).Member("service").Value())
}

func TestDetachStashesSpanContextWithoutInheriting(t *testing.T) {
	sc := sampledSpanContext(t)
	detached := Detach(trace.ContextWithSpanContext(context.Background(), sc))

	// The parent span is retrievable for linking but is not active.
	psc, ok := ParentSpanContext(detached)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), psc.TraceID())
	assert.Equal(t, sc.SpanID(), psc.SpanID())
	assert.False(t, trace.SpanFromContext(detached).SpanContext().IsValid())
}

func TestParentSpanContextAbsent(t *testing.T) {
	_, ok := ParentSpanContext(Detach(context.Background()))
	assert.False(t, ok)

	_, ok = ParentSpanContext(context.Background())
	assert.False(t, ok)
}

func TestStartLinkedSpanLinksToTrigger(t *testing.T) {
	sc := sampledSpanContext(t)
	detached := Detach(trace.ContextWithSpanContext(context.Background(), sc))

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := StartLinkedSpan(detached, tp.Tracer("test"), "remediate")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.NotEqual(t, sc.TraceID(), spans[0].SpanContext.TraceID(), "expected a new root trace")
	require.Len(t, spans[0].Links, 1)
	assert.Equal(t, sc.SpanID(), spans[0].Links[0].SpanContext.SpanID())
}

func TestStartLinkedSpanWithoutTrigger(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := StartLinkedSpan(Detach(context.Background()), tp.Tracer("test"), "remediate",
		trace.WithSpanKind(trace.SpanKindInternal))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Empty(t, spans[0].Links)
}
