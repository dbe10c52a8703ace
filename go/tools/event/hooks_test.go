// Copyright 2019 The Vitess Authors.
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
// Modifications Copyright 2026 The Mend Authors.

package event

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHooksFireRunsEveryFunc(t *testing.T) {
	var fired atomic.Int32

	var hooks Hooks
	for range 3 {
		hooks.Add(func() { fired.Add(1) })
	}

	require.Equal(t, 3, hooks.Len())
	hooks.Fire()
	require.Equal(t, int32(3), fired.Load())
}

func TestErrorHooksAllSucceed(t *testing.T) {
	var fired atomic.Int32

	var hooks ErrorHooks
	for range 3 {
		hooks.Add(func() error {
			fired.Add(1)
			return nil
		})
	}

	require.NoError(t, hooks.Fire())
	require.Equal(t, int32(3), fired.Load())
}

func TestErrorHooksJoinFailures(t *testing.T) {
	errFirst := errors.New("first hook failed")
	errSecond := errors.New("second hook failed")

	var hooks ErrorHooks
	hooks.Add(func() error { return errFirst })
	hooks.Add(func() error { return nil })
	hooks.Add(func() error { return errSecond })

	err := hooks.Fire()
	require.ErrorIs(t, err, errFirst)
	require.ErrorIs(t, err, errSecond)
}

func TestErrorHooksEmptyFireIsNil(t *testing.T) {
	var hooks ErrorHooks
	require.NoError(t, hooks.Fire())
}

func TestErrorHooksRunConcurrently(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})

	var hooks ErrorHooks
	for range 3 {
		hooks.Add(func() error {
			started.Add(1)
			<-release
			return nil
		})
	}

	fireDone := make(chan error, 1)
	go func() {
		fireDone <- hooks.Fire()
	}()

	// All three block on release at once only if Fire runs them in
	// parallel.
	require.Eventually(t, func() bool {
		return started.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	close(release)

	select {
	case err := <-fireDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Fire did not return after hooks were released")
	}
}
