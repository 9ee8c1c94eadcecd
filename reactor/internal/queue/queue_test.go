// Copyright (c) 2021 Andy Pan
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

package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewLockFreeQueue()
	require.True(t, q.IsEmpty())

	for i := 0; i < 3; i++ {
		task := GetTask()
		task.Arg = i
		q.Enqueue(task)
	}
	require.False(t, q.IsEmpty())

	for i := 0; i < 3; i++ {
		task := q.Dequeue()
		require.NotNil(t, task)
		require.Equal(t, i, task.Arg)
		PutTask(task)
	}
	require.True(t, q.IsEmpty())
}

func TestQueueDequeueOnEmptyReturnsNil(t *testing.T) {
	q := NewLockFreeQueue()
	require.Nil(t, q.Dequeue())
}

func TestGetTaskReturnsZeroedTask(t *testing.T) {
	task := GetTask()
	task.Run = func(interface{}) error { return nil }
	task.Arg = 42
	PutTask(task)

	task2 := GetTask()
	require.Nil(t, task2.Run)
	require.Nil(t, task2.Arg)
}
