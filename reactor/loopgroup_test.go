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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopGroupNextRoundRobins(t *testing.T) {
	lg := newLoopGroup()
	a, b, c := &eventloop{idx: 0}, &eventloop{idx: 1}, &eventloop{idx: 2}
	lg.register(a)
	lg.register(b)
	lg.register(c)
	require.Equal(t, 3, lg.len())

	var picks []int
	for i := 0; i < 6; i++ {
		picks = append(picks, lg.next().idx)
	}
	require.Equal(t, []int{1, 2, 0, 1, 2, 0}, picks)
}

func TestLoopGroupIterateVisitsEveryMember(t *testing.T) {
	lg := newLoopGroup()
	lg.register(&eventloop{idx: 0})
	lg.register(&eventloop{idx: 1})

	var seen []int
	lg.iterate(func(el *eventloop) {
		seen = append(seen, el.idx)
	})
	require.Equal(t, []int{0, 1}, seen)
}

func TestLoopGroupNextIsSafeForConcurrentCallers(t *testing.T) {
	lg := newLoopGroup()
	for i := 0; i < 4; i++ {
		lg.register(&eventloop{idx: i})
	}

	var wg sync.WaitGroup
	counts := make([]int32, 4)
	var mu sync.Mutex
	wg.Add(50)
	for i := 0; i < 50; i++ {
		go func() {
			defer wg.Done()
			el := lg.next()
			mu.Lock()
			counts[el.idx]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	var total int32
	for _, c := range counts {
		total += c
	}
	require.EqualValues(t, 50, total)
}
