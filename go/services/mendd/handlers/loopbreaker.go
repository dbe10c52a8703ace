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
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/spf13/afero"

	"github.com/mendsys/mend/go/services/mendd/types"
)

// loopBreaker captures a goroutine profile to the dump directory so an
// operator can find the stuck loop. Breaking the loop itself needs host
// knowledge; the dump is the actionable artifact.
type loopBreaker struct {
	logger  *slog.Logger
	fs      afero.Fs
	dumpDir func() string
	now     func() time.Time
}

// NewLoopBreaker creates the goroutine-dump handler.
func NewLoopBreaker(logger *slog.Logger, fs afero.Fs, dumpDir func() string) RemediationHandler {
	return &loopBreaker{
		logger:  logger,
		fs:      fs,
		dumpDir: dumpDir,
		now:     time.Now,
	}
}

func (h *loopBreaker) Name() string { return LoopBreaker }

func (h *loopBreaker) Metadata() Metadata {
	return Metadata{Description: "dump a goroutine profile to the dump directory for loop diagnosis"}
}

func (h *loopBreaker) Remediate(ctx context.Context, problem *types.Problem, strategy types.Strategy) error {
	profile := pprof.Lookup("goroutine")
	if profile == nil {
		return fmt.Errorf("goroutine profile unavailable")
	}

	dir := h.dumpDir()
	if dir == "" {
		return fmt.Errorf("no dump directory configured")
	}
	if err := h.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("goroutines-%s-%s.txt", problem.ID, h.now().Format("20060102T150405")))
	f, err := h.fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	if err := profile.WriteTo(f, 2); err != nil {
		f.Close()
		return fmt.Errorf("writing goroutine profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing dump file: %w", err)
	}

	h.logger.InfoContext(ctx, "goroutine profile dumped", "problem", problem.ID, "path", path)
	return nil
}
