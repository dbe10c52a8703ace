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

// Package ctxutil creates detached contexts for background work that
// must outlive the request that triggered it, without losing telemetry
// metadata.
package ctxutil

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

type parentSpanContextKey struct{}

// Detach returns a context that is not cancelled when parent is.
// Remediation outlives the probe cycle or host request that reported
// the problem, so attempt execution runs on a detached context.
//
// Baggage is carried over. The parent's span context is stashed for
// ParentSpanContext rather than kept as the active span, so spans
// started on the detached context do not silently become children of
// the originating trace; StartLinkedSpan links them explicitly.
func Detach(parent context.Context) context.Context {
	ctx := context.Background()

	if bag := baggage.FromContext(parent); bag.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}
	if span := trace.SpanFromContext(parent); span.SpanContext().IsValid() {
		ctx = context.WithValue(ctx, parentSpanContextKey{}, span.SpanContext())
	}
	return ctx
}

// ParentSpanContext returns the span context that was active when
// Detach was called, if any.
func ParentSpanContext(ctx context.Context) (trace.SpanContext, bool) {
	psc, ok := ctx.Value(parentSpanContextKey{}).(trace.SpanContext)
	return psc, ok
}

// StartLinkedSpan starts a new root span, linked to the span context
// stashed by Detach when one is present. Background work gets its own
// trace while staying correlated with the trigger.
func StartLinkedSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	spanOpts := []trace.SpanStartOption{trace.WithNewRoot()}
	if psc, ok := ParentSpanContext(ctx); ok {
		spanOpts = append(spanOpts, trace.WithLinks(trace.Link{SpanContext: psc}))
	}
	spanOpts = append(spanOpts, opts...)
	return tracer.Start(ctx, name, spanOpts...)
}
