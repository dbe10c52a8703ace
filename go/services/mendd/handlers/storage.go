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

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// storageJanitor deletes stale files from the configured scratch
// directories. It succeeds only when it actually freed bytes; an empty
// sweep is a failure so the dispatcher escalates to the fallback
// strategy instead of claiming the disk was cleaned.
type storageJanitor struct {
	logger      *slog.Logger
	fs          afero.Fs
	scratchDirs func() []string
	maxAge      func() time.Duration
	now         func() time.Time
}

// NewStorageJanitor creates the scratch-space cleanup handler.
// scratchDirs and maxAge are read at remediation time so dynamic config
// updates take effect without rebuilding the handler.
func NewStorageJanitor(logger *slog.Logger, fs afero.Fs, scratchDirs func() []string, maxAge func() time.Duration) RemediationHandler {
	return &storageJanitor{
		logger:      logger,
		fs:          fs,
		scratchDirs: scratchDirs,
		maxAge:      maxAge,
		now:         time.Now,
	}
}

func (h *storageJanitor) Name() string { return StorageJanitor }

func (h *storageJanitor) Metadata() Metadata {
	return Metadata{Description: "delete files older than the scratch max age from scratch directories"}
}

func (h *storageJanitor) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	dirs := h.scratchDirs()
	if len(dirs) == 0 {
		return fmt.Errorf("no scratch directories configured")
	}
	cutoff := h.now().Add(-h.maxAge())

	var freedBytes int64
	var removed int
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		fb, n, err := h.sweepDir(ctx, dir, cutoff)
		if err != nil {
			h.logger.WarnContext(ctx, "scratch sweep incomplete", "dir", dir, "error", err)
		}
		freedBytes += fb
		removed += n
	}

	h.logger.InfoContext(ctx, "scratch sweep finished",
		"problem", problem.ID,
		"removed_files", removed,
		"freed_bytes", freedBytes,
	)
	if freedBytes == 0 {
		return fmt.Errorf("no reclaimable files older than %s", h.maxAge())
	}
	return nil
}

func (h *storageJanitor) sweepDir(ctx context.Context, dir string, cutoff time.Time) (int64, int, error) {
	entries, err := afero.ReadDir(h.fs, dir)
	if err != nil {
		return 0, 0, err
	}
	var freed int64
	var removed int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return freed, removed, err
		}
		if entry.IsDir() || entry.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		size := entry.Size()
		if err := h.fs.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				h.logger.WarnContext(ctx, "failed to remove scratch file", "path", path, "error", err)
			}
			continue
		}
		freed += size
		removed++
	}
	return freed, removed, nil
}
