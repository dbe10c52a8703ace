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
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Registry holds the static and dynamic viper instances for configuration.
// Each service or command gets its own isolated registry instead of sharing
// package-global viper state.
//
// Static values never change after LoadConfigFile returns; they keep the
// value resolved from defaults, environment, flags, and the config file as
// it looked at startup. Dynamic values re-read the config file when it
// changes on disk (viper watches it through fsnotify).
type Registry struct {
	static *viper.Viper

	// dynamicMu guards dynamic against concurrent Get during a file reload.
	dynamicMu sync.RWMutex
	dynamic   *viper.Viper

	// reloadSubs receive a non-blocking notification after each reload.
	subMu      sync.Mutex
	reloadSubs []chan<- struct{}
}

// NewRegistry creates a new isolated configuration registry.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	interval := viperutil.Configure(reg, "detection-interval", viperutil.Options[time.Duration]{
//	    Default:  10 * time.Second,
//	    FlagName: "detection-interval",
//	})
func NewRegistry() *Registry {
	return &Registry{
		static:  viper.New(),
		dynamic: viper.New(),
	}
}

// LoadConfigFile reads the given config file into the registry. An empty
// path is a no-op so callers can run on flags and environment alone.
//
// After a successful load, the dynamic side starts watching the file; keys
// configured with Dynamic: true pick up edits for the lifetime of the
// process, while static keys keep their startup values.
func (reg *Registry) LoadConfigFile(path string) error {
	if path == "" {
		return nil
	}

	reg.static.SetConfigFile(path)
	if err := reg.static.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reg.dynamicMu.Lock()
	reg.dynamic.SetConfigFile(path)
	err := reg.dynamic.ReadInConfig()
	reg.dynamicMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	reg.dynamic.OnConfigChange(func(_ fsnotify.Event) {
		reg.dynamicMu.Lock()
		if err := reg.dynamic.ReadInConfig(); err != nil {
			slog.Warn("failed to reload config file, keeping previous values",
				"file", path, "error", err)
		}
		reg.dynamicMu.Unlock()
		reg.notifyReload()
	})
	reg.dynamic.WatchConfig()

	return nil
}

// NotifyConfigReload registers a channel that receives a (non-blocking)
// notification after the dynamic config has been reloaded from disk.
// Analogous to signal.Notify, consumers must drain promptly or accept
// dropped notifications.
func (reg *Registry) NotifyConfigReload(ch chan<- struct{}) {
	reg.subMu.Lock()
	defer reg.subMu.Unlock()
	reg.reloadSubs = append(reg.reloadSubs, ch)
}

func (reg *Registry) notifyReload() {
	reg.subMu.Lock()
	defer reg.subMu.Unlock()
	for _, ch := range reg.reloadSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ConfigFileUsed returns the config file loaded at startup, if any.
func (reg *Registry) ConfigFileUsed() string {
	return reg.static.ConfigFileUsed()
}

// AllSettings returns the merged static settings, for debug handlers.
func (reg *Registry) AllSettings() map[string]any {
	return reg.static.AllSettings()
}
