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
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SamplingConfig maps span identities to named categories, each with its
// own sampling probability. Loaded from YAML when OTEL_TRACES_SAMPLER is
// set to "mend_custom".
type SamplingConfig struct {
	Categories map[string]CategoryConfig `yaml:"categories"`
	GRPC       GRPCSpanConfig            `yaml:"grpc"`
	HTTP       HTTPSpanConfig            `yaml:"http"`
	Spans      SpanConfig                `yaml:"spans"`
}

// CategoryConfig holds the sampling probability for one category.
type CategoryConfig struct {
	Probability float64 `yaml:"probability"`
}

// GRPCSpanConfig assigns categories to gRPC spans. Services maps
// service-level defaults ("/package.Service"), Methods maps per-method
// overrides ("/package.Service/Method").
type GRPCSpanConfig struct {
	Services map[string]string `yaml:"services"`
	Methods  map[string]string `yaml:"methods"`
}

// HTTPSpanConfig assigns categories to HTTP server spans, by exact
// "METHOD /path" match or by glob pattern.
type HTTPSpanConfig struct {
	Exact    map[string]string `yaml:"exact"`
	Patterns map[string]string `yaml:"patterns"`
}

// SpanConfig assigns categories to manually created spans by name.
type SpanConfig struct {
	Exact    map[string]string `yaml:"exact"`
	Patterns map[string]string `yaml:"patterns"`
}

// loadSamplingConfig reads and validates a sampling config file.
func loadSamplingConfig(path string) (*SamplingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sampling config file: %w", err)
	}

	var config SamplingConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse sampling config YAML: %w", err)
	}

	if len(config.Categories) == 0 {
		return nil, errors.New("sampling config must define at least one category")
	}
	if _, ok := config.Categories["default"]; !ok {
		return nil, errors.New("sampling config must define a 'default' category")
	}
	for name, cat := range config.Categories {
		if cat.Probability < 0 || cat.Probability > 1 {
			return nil, fmt.Errorf("category %q has invalid probability %f (must be 0.0-1.0)", name, cat.Probability)
		}
	}

	// Every mapping must point at a category that exists.
	allMappings := make(map[string]string)
	maps.Copy(allMappings, config.GRPC.Services)
	maps.Copy(allMappings, config.GRPC.Methods)
	maps.Copy(allMappings, config.HTTP.Exact)
	maps.Copy(allMappings, config.HTTP.Patterns)
	maps.Copy(allMappings, config.Spans.Exact)
	maps.Copy(allMappings, config.Spans.Patterns)
	for span, cat := range allMappings {
		if _, ok := config.Categories[cat]; !ok {
			return nil, fmt.Errorf("span %q references undefined category %q", span, cat)
		}
	}

	return &config, nil
}

// ConfigurableSampler routes each sampling decision to a per-category
// sampler chosen from the span's identity. Probes, remediation
// dispatches, and health queries can then be sampled at different rates
// without touching code.
type ConfigurableSampler struct {
	config     *SamplingConfig
	samplers   map[string]sdktrace.Sampler
	defaultCat string
}

// getAttributeValue returns the string value of the named attribute.
func getAttributeValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

// grpcCategory resolves a category for a gRPC span, method override
// before service default. ok is false when the span is not gRPC.
func (s *ConfigurableSampler) grpcCategory(attrs []attribute.KeyValue) (string, bool) {
	if system, present := getAttributeValue(attrs, "rpc.system"); !present || system != "grpc" {
		return "", false
	}

	service, hasService := getAttributeValue(attrs, "rpc.service")
	method, hasMethod := getAttributeValue(attrs, "rpc.method")
	if hasService && hasMethod {
		if cat, ok := s.config.GRPC.Methods["/"+service+"/"+method]; ok {
			return cat, true
		}
		if cat, ok := s.config.GRPC.Services["/"+service]; ok {
			return cat, true
		}
	}
	return s.defaultCat, true
}

// httpCategory resolves a category for an HTTP span as "METHOD /path",
// exact match before glob pattern. The route attribute wins over the raw
// target so query strings do not defeat matching. ok is false when the
// span is not HTTP.
func (s *ConfigurableSampler) httpCategory(attrs []attribute.KeyValue) (string, bool) {
	method, present := getAttributeValue(attrs, "http.method")
	if !present {
		return "", false
	}

	path, _ := getAttributeValue(attrs, "http.route")
	if path == "" {
		path, _ = getAttributeValue(attrs, "http.target")
	}
	if path != "" {
		full := method + " " + path
		if cat, ok := s.config.HTTP.Exact[full]; ok {
			return cat, true
		}
		for pattern, cat := range s.config.HTTP.Patterns {
			if matched, _ := filepath.Match(pattern, full); matched {
				return cat, true
			}
		}
	}
	return s.defaultCat, true
}

// getCategoryForSpan classifies a span by its semantic convention
// attributes: gRPC first, then HTTP, then manual spans by name.
func (s *ConfigurableSampler) getCategoryForSpan(params sdktrace.SamplingParameters) string {
	if cat, ok := s.grpcCategory(params.Attributes); ok {
		return cat
	}
	if cat, ok := s.httpCategory(params.Attributes); ok {
		return cat
	}

	if cat, ok := s.config.Spans.Exact[params.Name]; ok {
		return cat
	}
	for pattern, cat := range s.config.Spans.Patterns {
		if matched, _ := filepath.Match(pattern, params.Name); matched {
			return cat
		}
	}
	return s.defaultCat
}

func (s *ConfigurableSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	category := s.getCategoryForSpan(params)

	sampler, ok := s.samplers[category]
	if !ok {
		// Validation keeps this from happening for loaded configs.
		sampler = s.samplers[s.defaultCat]
	}
	return sampler.ShouldSample(params)
}

func (s *ConfigurableSampler) Description() string {
	return fmt.Sprintf("ConfigurableSampler{categories=%d, default=%s}",
		len(s.config.Categories), s.defaultCat)
}

// maybeCreateCustomSampler builds the file-driven sampler when
// OTEL_TRACES_SAMPLER is "mend_custom", reading the config path from
// OTEL_TRACES_SAMPLER_CONFIG. Any other sampler value returns (nil, nil)
// so the SDK handles it through the standard environment variables.
// The result is wrapped in ParentBased so child spans of a sampled trace
// are always kept.
func maybeCreateCustomSampler() (sdktrace.Sampler, error) {
	if os.Getenv("OTEL_TRACES_SAMPLER") != "mend_custom" {
		return nil, nil
	}

	configPath := os.Getenv("OTEL_TRACES_SAMPLER_CONFIG")
	if configPath == "" {
		return nil, errors.New("OTEL_TRACES_SAMPLER=mend_custom but OTEL_TRACES_SAMPLER_CONFIG not set")
	}

	config, err := loadSamplingConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load sampling config from %s: %w", configPath, err)
	}

	samplers := make(map[string]sdktrace.Sampler, len(config.Categories))
	for name, cat := range config.Categories {
		samplers[name] = sdktrace.TraceIDRatioBased(cat.Probability)
	}

	return sdktrace.ParentBased(&ConfigurableSampler{
		config:     config,
		samplers:   samplers,
		defaultCat: "default",
	}), nil
}
