// Copyright 2026 The Mend Authors
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

package viperutil

import (
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Value is a handle to a single configuration key. Components hold Values
// instead of reading viper directly, which keeps key names, env bindings,
// and defaults in one place.
type Value[T any] interface {
	Bindable

	// Get returns the current value, resolving (in precedence order) an
	// explicit Set, the bound flag, environment variables, the config
	// file, and finally the default.
	Get() T

	// Set overrides the value for the lifetime of the process.
	// Primarily used by tests.
	Set(v T)

	// Default returns the configured default.
	Default() T
}

// Bindable is the non-generic part of a Value, letting BindFlags accept
// values of mixed underlying types.
type Bindable interface {
	// Key returns the viper key this value is registered under.
	Key() string

	// Flag returns the flag name bound to this value, if any.
	Flag() string

	bindFlag(fs *pflag.FlagSet)
}

// Options configures a Value at registration time.
type Options[T any] struct {
	// Default is the value returned when no other source provides one.
	Default T

	// FlagName binds the value to a pflag of this name (see BindFlags).
	FlagName string

	// EnvVars lists environment variables bound to this value.
	EnvVars []string

	// Dynamic values follow config-file edits after startup; static
	// values are frozen once flags are parsed and the file is loaded.
	Dynamic bool

	// GetFunc overrides how the value is read from viper. When nil, a
	// reader is chosen based on the value's type.
	GetFunc func(v *viper.Viper) func(key string) T
}

// Configure registers a key on the registry and returns its Value handle.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	val := &value[T]{
		reg:  reg,
		key:  key,
		opts: opts,
	}

	for _, v := range []*viper.Viper{reg.static, reg.dynamic} {
		v.SetDefault(key, opts.Default)
		for _, env := range opts.EnvVars {
			// BindEnv only fails on zero arguments.
			_ = v.BindEnv(append([]string{key}, env)...)
		}
	}

	return val
}

// BindFlags binds each value's flag (from the given flag set) into the
// registry, so parsed flags take precedence over file and defaults.
// Call after registering flags and before parsing.
func BindFlags(fs *pflag.FlagSet, values ...Bindable) {
	for _, val := range values {
		val.bindFlag(fs)
	}
}

type value[T any] struct {
	reg  *Registry
	key  string
	opts Options[T]

	mu       sync.Mutex
	override *T
}

func (val *value[T]) Key() string  { return val.key }
func (val *value[T]) Flag() string { return val.opts.FlagName }

func (val *value[T]) Default() T { return val.opts.Default }

func (val *value[T]) Set(v T) {
	val.mu.Lock()
	defer val.mu.Unlock()
	val.override = &v
}

func (val *value[T]) Get() T {
	val.mu.Lock()
	if val.override != nil {
		v := *val.override
		val.mu.Unlock()
		return v
	}
	val.mu.Unlock()

	getFunc := val.opts.GetFunc
	if getFunc == nil {
		getFunc = defaultGetFunc[T]
	}

	if val.opts.Dynamic {
		val.reg.dynamicMu.RLock()
		defer val.reg.dynamicMu.RUnlock()
		return getFunc(val.reg.dynamic)(val.key)
	}
	return getFunc(val.reg.static)(val.key)
}

func (val *value[T]) bindFlag(fs *pflag.FlagSet) {
	if val.opts.FlagName == "" {
		return
	}
	flag := fs.Lookup(val.opts.FlagName)
	if flag == nil {
		return
	}
	_ = val.reg.static.BindPFlag(val.key, flag)
	val.reg.dynamicMu.Lock()
	_ = val.reg.dynamic.BindPFlag(val.key, flag)
	val.reg.dynamicMu.Unlock()
}

// defaultGetFunc picks a typed viper reader for the common config types
// and falls back to a mapstructure decode for anything else.
func defaultGetFunc[T any](v *viper.Viper) func(key string) T {
	var zero T
	switch any(zero).(type) {
	case string:
		return func(key string) T { return any(v.GetString(key)).(T) }
	case bool:
		return func(key string) T { return any(v.GetBool(key)).(T) }
	case int:
		return func(key string) T { return any(v.GetInt(key)).(T) }
	case float64:
		return func(key string) T { return any(v.GetFloat64(key)).(T) }
	case time.Duration:
		return func(key string) T { return any(v.GetDuration(key)).(T) }
	case []string:
		return func(key string) T { return any(v.GetStringSlice(key)).(T) }
	case map[string]string:
		return func(key string) T { return any(getStringMapString(v, key)).(T) }
	default:
		return func(key string) T {
			var out T
			if err := v.UnmarshalKey(key, &out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			))); err != nil {
				return zero
			}
			return out
		}
	}
}

// getStringMapString handles both file-sourced maps and flag-sourced
// "key=value" string slices (pflag's StringToString renders as the latter).
func getStringMapString(v *viper.Viper, key string) map[string]string {
	if m := v.GetStringMapString(key); len(m) > 0 {
		return m
	}

	out := make(map[string]string)
	for _, pair := range v.GetStringSlice(key) {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out
}
