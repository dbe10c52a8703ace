// Copyright 2023 The Vitess Authors.
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

package servenv

import (
	"fmt"
	"log/slog"
	"os"
)

// registerPidFile writes the daemon pid to --pid-file once flags are
// parsed and removes it again on graceful shutdown. The exclusive create
// leaves a stale file from a crashed run in place so the failure is
// visible.
func (se *ServEnv) registerPidFile() {
	created := false

	se.OnInit(func() {
		path := se.pidFile.Get()
		if path == "" {
			return
		}

		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if err != nil {
			slog.Error("Unable to create pid file", "path", path, "err", err)
			return
		}
		created = true
		fmt.Fprintln(file, os.Getpid())
		_ = file.Close()
	})

	se.OnClose(func() {
		path := se.pidFile.Get()
		if path == "" || !created {
			return
		}
		if err := os.Remove(path); err != nil {
			slog.Error("Unable to remove pid file", "path", path, "err", err)
		}
	})
}
