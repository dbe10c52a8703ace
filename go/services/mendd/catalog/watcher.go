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

package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/mendsys/mend/go/tools/retry"
)

// Watcher hot-reloads a catalog from a YAML file on change. A reload
// that fails to parse or validate keeps the previous catalog; a broken
// watch is re-armed with exponential backoff so an editor's atomic
// rename (remove + create) cannot permanently kill reloading.
type Watcher struct {
	catalog      *Catalog
	fs           afero.Fs
	path         string
	handlerKnown func(string) bool
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the given catalog file. Start must be
// called to begin watching.
func NewWatcher(c *Catalog, fs afero.Fs, path string, handlerKnown func(string) bool, logger *slog.Logger) *Watcher {
	return &Watcher{
		catalog:      c,
		fs:           fs,
		path:         path,
		handlerKnown: handlerKnown,
		logger:       logger,
	}
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop terminates the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	// The watch breaks when the directory disappears or inotify
	// resources are exhausted; each pass re-creates it from scratch.
	r := retry.New(100*time.Millisecond, 30*time.Second)
	for {
		if err := r.StartAttempt(ctx); err != nil {
			return // shutting down
		}
		if err := w.watchOnce(ctx); err != nil {
			w.logger.WarnContext(ctx, "catalog watch interrupted, re-arming",
				"path", w.path, "error", err)
			continue
		}
		return // context done
	}
}

// watchOnce runs a single watch session. It watches the parent directory
// rather than the file itself, since most editors replace the file on
// save and a file-level watch would be lost after the first write.
func (w *Watcher) watchOnce(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return fsnotify.ErrEventOverflow
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				w.reload(ctx)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return fsnotify.ErrEventOverflow
			}
			return err
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	table, err := LoadTable(w.fs, w.path)
	if err != nil {
		w.logger.WarnContext(ctx, "catalog reload failed, keeping previous catalog",
			"path", w.path, "error", err)
		return
	}
	if err := w.catalog.Replace(table, w.handlerKnown); err != nil {
		w.logger.WarnContext(ctx, "catalog reload rejected by validation, keeping previous catalog",
			"path", w.path, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "catalog reloaded", "path", w.path)
}
