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

package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func writeSamplingConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sampling.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	return path
}

func grpcAttrs(service, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
}

func httpAttrs(method, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.target", target),
	}
}

func TestLoadSamplingConfigValid(t *testing.T) {
	path := writeSamplingConfig(t, `
categories:
  default:
    probability: 1.0
  remediation:
    probability: 1.0
  queries:
    probability: 0.001
  monitoring:
    probability: 0.1

grpc:
  services:
    /mend.Engine: remediation
  methods:
    /mend.Mend/GetHealth: queries

http:
  exact:
    GET /live: monitoring
    GET /ready: monitoring
  patterns:
    GET /debug/mend/*: queries

spans:
  exact:
    engine/report: remediation
  patterns:
    probe/*: monitoring
`)

	config, err := loadSamplingConfig(path)
	require.NoError(t, err)
	require.Len(t, config.Categories, 4)
	require.Equal(t, 0.001, config.Categories["queries"].Probability)
	require.Equal(t, "remediation", config.GRPC.Services["/mend.Engine"])
	require.Equal(t, "queries", config.GRPC.Methods["/mend.Mend/GetHealth"])
	require.Equal(t, "monitoring", config.HTTP.Exact["GET /live"])
	require.Equal(t, "queries", config.HTTP.Patterns["GET /debug/mend/*"])
	require.Equal(t, "remediation", config.Spans.Exact["engine/report"])
	require.Equal(t, "monitoring", config.Spans.Patterns["probe/*"])
}

func TestLoadSamplingConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing default category",
			yaml:    "categories:\n  queries:\n    probability: 0.1\n",
			wantErr: "must define a 'default' category",
		},
		{
			name:    "empty categories",
			yaml:    "categories: {}\n",
			wantErr: "must define at least one category",
		},
		{
			name:    "negative probability",
			yaml:    "categories:\n  default:\n    probability: -0.1\n",
			wantErr: "invalid probability",
		},
		{
			name:    "probability above one",
			yaml:    "categories:\n  default:\n    probability: 1.5\n",
			wantErr: "invalid probability",
		},
		{
			name:    "undefined category reference",
			yaml:    "categories:\n  default:\n    probability: 1.0\ngrpc:\n  services:\n    /mend.Mend: ghost\n",
			wantErr: "references undefined category",
		},
		{
			name:    "malformed yaml",
			yaml:    "categories:\n  default: not a mapping\n",
			wantErr: "failed to parse sampling config YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSamplingConfig(t, tt.yaml)
			_, err := loadSamplingConfig(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSamplingConfigFileNotFound(t *testing.T) {
	_, err := loadSamplingConfig("/nonexistent/sampling.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read sampling config file")
}

func TestGetCategoryForSpan(t *testing.T) {
	sampler := &ConfigurableSampler{
		config: &SamplingConfig{
			Categories: map[string]CategoryConfig{
				"default":     {Probability: 1.0},
				"remediation": {Probability: 1.0},
				"queries":     {Probability: 0.1},
				"monitoring":  {Probability: 0.1},
			},
			GRPC: GRPCSpanConfig{
				Services: map[string]string{"/mend.Mend": "remediation"},
				Methods:  map[string]string{"/mend.Mend/GetHealth": "queries"},
			},
			HTTP: HTTPSpanConfig{
				Exact:    map[string]string{"GET /live": "monitoring", "GET /ready": "monitoring"},
				Patterns: map[string]string{"GET /debug/mend/*": "queries"},
			},
			Spans: SpanConfig{
				Exact:    map[string]string{"engine/report": "remediation"},
				Patterns: map[string]string{"probe/*": "monitoring"},
			},
		},
		defaultCat: "default",
	}

	tests := []struct {
		name     string
		params   sdktrace.SamplingParameters
		expected string
	}{
		{
			name:     "grpc method override beats service default",
			params:   sdktrace.SamplingParameters{Attributes: grpcAttrs("mend.Mend", "GetHealth")},
			expected: "queries",
		},
		{
			name:     "grpc service default for unlisted method",
			params:   sdktrace.SamplingParameters{Attributes: grpcAttrs("mend.Mend", "ReportProblem")},
			expected: "remediation",
		},
		{
			name:     "grpc unknown service falls to default",
			params:   sdktrace.SamplingParameters{Attributes: grpcAttrs("unknown.Service", "Anything")},
			expected: "default",
		},
		{
			name:     "http exact match",
			params:   sdktrace.SamplingParameters{Attributes: httpAttrs("GET", "/live")},
			expected: "monitoring",
		},
		{
			name:     "http pattern match",
			params:   sdktrace.SamplingParameters{Attributes: httpAttrs("GET", "/debug/mend/problems")},
			expected: "queries",
		},
		{
			name: "http route preferred over target",
			params: sdktrace.SamplingParameters{Attributes: []attribute.KeyValue{
				attribute.String("http.method", "GET"),
				attribute.String("http.route", "/ready"),
				attribute.String("http.target", "/ready?verbose=1"),
			}},
			expected: "monitoring",
		},
		{
			name:     "http no match falls to default",
			params:   sdktrace.SamplingParameters{Attributes: httpAttrs("POST", "/unknown")},
			expected: "default",
		},
		{
			name:     "manual span exact match",
			params:   sdktrace.SamplingParameters{Name: "engine/report"},
			expected: "remediation",
		},
		{
			name:     "manual span pattern match",
			params:   sdktrace.SamplingParameters{Name: "probe/meminfo"},
			expected: "monitoring",
		},
		{
			name:     "manual span no match falls to default",
			params:   sdktrace.SamplingParameters{Name: "unmapped"},
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, sampler.getCategoryForSpan(tt.params))
		})
	}
}

func TestGetCategoryForSpanExactBeatsPattern(t *testing.T) {
	sampler := &ConfigurableSampler{
		config: &SamplingConfig{
			Categories: map[string]CategoryConfig{
				"default":     {Probability: 1.0},
				"monitoring":  {Probability: 0.1},
				"remediation": {Probability: 1.0},
			},
			HTTP: HTTPSpanConfig{
				Exact:    map[string]string{"GET /ready": "monitoring"},
				Patterns: map[string]string{"GET /*": "remediation"},
			},
		},
		defaultCat: "default",
	}

	params := sdktrace.SamplingParameters{Attributes: httpAttrs("GET", "/ready")}
	require.Equal(t, "monitoring", sampler.getCategoryForSpan(params))

	params = sdktrace.SamplingParameters{Attributes: httpAttrs("GET", "/other")}
	require.Equal(t, "remediation", sampler.getCategoryForSpan(params))
}

func TestConfigurableSamplerShouldSample(t *testing.T) {
	sampler := &ConfigurableSampler{
		config: &SamplingConfig{
			Categories: map[string]CategoryConfig{
				"default": {Probability: 1.0},
				"never":   {Probability: 0.0},
			},
			Spans: SpanConfig{
				Exact: map[string]string{"drop_me": "never"},
			},
		},
		samplers: map[string]sdktrace.Sampler{
			"default": sdktrace.AlwaysSample(),
			"never":   sdktrace.NeverSample(),
		},
		defaultCat: "default",
	}

	result := sampler.ShouldSample(sdktrace.SamplingParameters{Name: "any_span"})
	require.Equal(t, sdktrace.RecordAndSample, result.Decision)

	result = sampler.ShouldSample(sdktrace.SamplingParameters{Name: "drop_me"})
	require.Equal(t, sdktrace.Drop, result.Decision)
}

func TestConfigurableSamplerMissingCategoryFallsBack(t *testing.T) {
	sampler := &ConfigurableSampler{
		config: &SamplingConfig{
			Categories: map[string]CategoryConfig{"default": {Probability: 1.0}},
			Spans: SpanConfig{
				Exact: map[string]string{"orphan": "missing_category"},
			},
		},
		samplers:   map[string]sdktrace.Sampler{"default": sdktrace.AlwaysSample()},
		defaultCat: "default",
	}

	result := sampler.ShouldSample(sdktrace.SamplingParameters{Name: "orphan"})
	require.Equal(t, sdktrace.RecordAndSample, result.Decision)
}

func TestConfigurableSamplerDescription(t *testing.T) {
	sampler := &ConfigurableSampler{
		config: &SamplingConfig{
			Categories: map[string]CategoryConfig{
				"default": {Probability: 1.0},
				"queries": {Probability: 0.1},
			},
		},
		defaultCat: "default",
	}

	desc := sampler.Description()
	require.Contains(t, desc, "ConfigurableSampler")
	require.Contains(t, desc, "categories=2")
	require.Contains(t, desc, "default=default")
}

func TestGetAttributeValue(t *testing.T) {
	attrs := []attribute.KeyValue{
		attribute.String("key1", "value1"),
		attribute.Int("key2", 42),
	}

	value, ok := getAttributeValue(attrs, "key1")
	require.True(t, ok)
	require.Equal(t, "value1", value)

	value, ok = getAttributeValue(attrs, "nonexistent")
	require.False(t, ok)
	require.Empty(t, value)
}

func TestMaybeCreateCustomSamplerDefersToStandard(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "always_on")

	sampler, err := maybeCreateCustomSampler()
	require.NoError(t, err)
	require.Nil(t, sampler)
}

func TestMaybeCreateCustomSamplerMissingConfigPath(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "mend_custom")
	t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", "")

	sampler, err := maybeCreateCustomSampler()
	require.Error(t, err)
	require.Nil(t, sampler)
	require.Contains(t, err.Error(), "OTEL_TRACES_SAMPLER_CONFIG not set")
}

func TestMaybeCreateCustomSamplerBadConfigFile(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER", "mend_custom")
	t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", "/nonexistent/sampling.yaml")

	sampler, err := maybeCreateCustomSampler()
	require.Error(t, err)
	require.Nil(t, sampler)
	require.Contains(t, err.Error(), "failed to load sampling config")
}

func TestMaybeCreateCustomSamplerSuccess(t *testing.T) {
	path := writeSamplingConfig(t, `
categories:
  default:
    probability: 1.0
  queries:
    probability: 0.1
`)
	t.Setenv("OTEL_TRACES_SAMPLER", "mend_custom")
	t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", path)

	sampler, err := maybeCreateCustomSampler()
	require.NoError(t, err)
	require.NotNil(t, sampler)
	require.Contains(t, sampler.Description(), "ParentBased")
}

func TestCustomSamplerRespectsSampledParent(t *testing.T) {
	path := writeSamplingConfig(t, `
categories:
  default:
    probability: 0.0
`)
	t.Setenv("OTEL_TRACES_SAMPLER", "mend_custom")
	t.Setenv("OTEL_TRACES_SAMPLER_CONFIG", path)

	sampler, err := maybeCreateCustomSampler()
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(t.Context(), parent)

	// The root ratio is zero, but a sampled parent keeps the child.
	result := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: ctx,
		Name:          "child_span",
	})
	require.Equal(t, sdktrace.RecordAndSample, result.Decision)
}
