// Copyright (c) 2022 The tide Authors
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

package threadpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsValue(t *testing.T) {
	tp := New(4, 1, time.Hour)
	defer func() { tp.Shutdown(); tp.JoinAll() }()

	f := Execute(tp, func() (int, error) {
		return 21 * 2, nil
	})
	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecuteReturnsError(t *testing.T) {
	tp := New(4, 1, time.Hour)
	defer func() { tp.Shutdown(); tp.JoinAll() }()

	wantErr := errors.New("task failed")
	f := Execute(tp, func() (int, error) {
		return 0, wantErr
	})
	_, err := f.Get()
	require.ErrorIs(t, err, wantErr)
}

func TestExecuteRecoversPanic(t *testing.T) {
	tp := New(4, 1, time.Hour)
	defer func() { tp.Shutdown(); tp.JoinAll() }()

	f := Execute(tp, func() (int, error) {
		panic("boom")
	})
	_, err := f.Get()
	require.Error(t, err)
}

func TestExecuteAfterShutdownReturnsReadyFuture(t *testing.T) {
	tp := New(2, 0, time.Hour)
	tp.Shutdown()
	tp.JoinAll()

	f := Execute(tp, func() (int, error) {
		t.Fatal("task should never run after shutdown")
		return 0, nil
	})
	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 0, v)
}

func TestPoolRunsManyTasksConcurrently(t *testing.T) {
	tp := New(8, 2, time.Hour)
	defer func() { tp.Shutdown(); tp.JoinAll() }()

	const n = 100
	var wg sync.WaitGroup
	var completed int32
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f := Execute(tp, func() (int, error) {
				atomic.AddInt32(&completed, 1)
				return 1, nil
			})
			_, err := f.Get()
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, n, completed)
}

func TestMonitorRetiresIdleWorkersAboveFloor(t *testing.T) {
	tp := New(8, 1, 10*time.Millisecond)
	defer func() { tp.Shutdown(); tp.JoinAll() }()

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func() {
			defer wg.Done()
			_, _ = Execute(tp, func() (int, error) { return 0, nil }).Get()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		active, idle, _ := tp.Stats()
		return active+idle <= 2
	}, time.Second, 5*time.Millisecond)
}
