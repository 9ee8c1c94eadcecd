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

package future

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPromiseSetValueThenGet(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	require.False(t, f.IsReady())

	p.SetValue(42)
	require.True(t, f.IsReady())

	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestPromiseSetErrorThenGet(t *testing.T) {
	p := NewPromise[string]()
	f := p.Future()

	wantErr := errors.New("boom")
	p.SetError(wantErr)

	v, err := f.Get()
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, "", v)
}

func TestPromiseOnlyFirstCompleteWins(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	p.SetValue(1)
	p.SetValue(2)

	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestFutureGetBlocksUntilFulfilled(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.SetValue(7)
	}()

	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 7, v)
	wg.Wait()
}

func TestOnCompleteFiresSynchronouslyWhenAlreadyReady(t *testing.T) {
	f := MakeReadyFuture(9)

	var got Try[int]
	f.OnComplete(func(t Try[int]) {
		got = t
	})

	require.Equal(t, 9, got.Value)
	require.NoError(t, got.Err)
}

func TestOnCompleteFiresLaterWhenNotYetReady(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	done := make(chan Try[int], 1)
	f.OnComplete(func(t Try[int]) {
		done <- t
	})

	p.SetValue(5)
	got := <-done
	require.Equal(t, 5, got.Value)
}

func TestThenChainsOntoResult(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	chained := Then(f, func(t Try[int]) (string, error) {
		if t.Err != nil {
			return "", t.Err
		}
		if t.Value > 10 {
			return "big", nil
		}
		return "small", nil
	})

	p.SetValue(11)
	v, err := chained.Get()
	require.NoError(t, err)
	require.Equal(t, "big", v)
}

func TestThenRecoversPanic(t *testing.T) {
	f := MakeReadyFuture(1)

	chained := Then(f, func(Try[int]) (int, error) {
		panic("kaboom")
	})

	_, err := chained.Get()
	require.Error(t, err)
}
