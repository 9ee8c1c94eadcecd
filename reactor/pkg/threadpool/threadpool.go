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

// Package threadpool is an elastic worker pool with a Future-returning
// Execute, modeled on ananas's ThreadPool: workers are spawned on demand up
// to maxThreads, and a monitor goroutine prunes threads that have sat idle
// past maxIdleThreads — it only ever retires a worker that is parked in
// cond.Wait, never one mid-task, the same guarantee _MonitorRoutine gets
// from reading waiters_ before touching currentThreads_.
package threadpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidalcore/tide/reactor/pkg/future"
)

// ThreadPool is a pool of goroutines draining a shared task queue.
type ThreadPool struct {
	mu         sync.Mutex
	cond       *sync.Cond
	tasks      []func()
	waiters    int32
	current    int32
	maxThreads int32
	maxIdle    int32
	retire     int32
	shutdown   bool
	wg         sync.WaitGroup
	stop       chan struct{}
}

// New returns a running ThreadPool. maxThreads bounds concurrent workers;
// maxIdleThreads is the floor the monitor will not shrink idle workers
// below; monitorInterval is how often the monitor looks for excess idle
// workers to retire.
func New(maxThreads, maxIdleThreads int, monitorInterval time.Duration) *ThreadPool {
	if maxThreads < 1 {
		maxThreads = 1
	}
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Second
	}
	tp := &ThreadPool{
		maxThreads: int32(maxThreads),
		maxIdle:    int32(maxIdleThreads),
		stop:       make(chan struct{}),
	}
	tp.cond = sync.NewCond(&tp.mu)
	go tp.monitorRoutine(monitorInterval)
	return tp
}

// SetMaxThreads raises or lowers the worker ceiling; it takes effect the
// next time a task is submitted and a worker needs spawning.
func (tp *ThreadPool) SetMaxThreads(n int) {
	tp.mu.Lock()
	tp.maxThreads = int32(n)
	tp.mu.Unlock()
}

// SetMaxIdleThreads changes the floor the monitor will not prune below.
func (tp *ThreadPool) SetMaxIdleThreads(n int) {
	tp.mu.Lock()
	tp.maxIdle = int32(n)
	tp.mu.Unlock()
}

// Stats reports how many workers are running a task, how many are idle and
// how many tasks are queued, for a caller (e.g. the admin HTTP server) to
// publish as metrics.
func (tp *ThreadPool) Stats() (active, idle, queued int) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return int(tp.current - tp.waiters), int(tp.waiters), len(tp.tasks)
}

func (tp *ThreadPool) spawnWorker() {
	tp.current++
	tp.wg.Add(1)
	go tp.workerRoutine()
}

func (tp *ThreadPool) workerRoutine() {
	defer tp.wg.Done()
	for {
		tp.mu.Lock()
		for len(tp.tasks) == 0 && !tp.shutdown {
			if tp.retire > 0 {
				tp.retire--
				tp.current--
				tp.mu.Unlock()
				return
			}
			tp.waiters++
			tp.cond.Wait()
			tp.waiters--
		}
		if len(tp.tasks) == 0 {
			tp.current--
			tp.mu.Unlock()
			return
		}
		t := tp.tasks[0]
		tp.tasks[0] = nil
		tp.tasks = tp.tasks[1:]
		tp.mu.Unlock()

		t()
	}
}

func (tp *ThreadPool) monitorRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-tp.stop:
			return
		case <-ticker.C:
			tp.mu.Lock()
			if tp.waiters > tp.maxIdle {
				tp.retire = tp.waiters - tp.maxIdle
				tp.cond.Broadcast()
			}
			tp.mu.Unlock()
		}
	}
}

// execute enqueues f, spawning a worker when none are idle and the pool
// still has room, and reports whether the pool accepted the task.
func (tp *ThreadPool) execute(f func()) bool {
	tp.mu.Lock()
	if tp.shutdown {
		tp.mu.Unlock()
		return false
	}
	tp.tasks = append(tp.tasks, f)
	if tp.waiters == 0 && tp.current < tp.maxThreads {
		tp.spawnWorker()
	}
	tp.mu.Unlock()
	tp.cond.Signal()
	return true
}

// Shutdown stops accepting new tasks and lets every worker drain the queue
// before its goroutine exits; it does not block — call JoinAll for that.
func (tp *ThreadPool) Shutdown() {
	tp.mu.Lock()
	tp.shutdown = true
	tp.mu.Unlock()
	close(tp.stop)
	tp.cond.Broadcast()
}

// JoinAll blocks until every worker goroutine has exited. Call Shutdown
// first, or this blocks forever on a pool still accepting work.
func (tp *ThreadPool) JoinAll() {
	tp.wg.Wait()
}

// Execute submits f to run on a pool worker and returns a Future for its
// result. If the pool has been shut down, the returned Future is already
// fulfilled with the zero value.
//
// Execute is a free function, not a ThreadPool method, because Go methods
// cannot carry their own type parameters.
func Execute[T any](tp *ThreadPool, f func() (T, error)) future.Future[T] {
	p := future.NewPromise[T]()
	ok := tp.execute(func() {
		defer func() {
			if r := recover(); r != nil {
				p.SetError(fmt.Errorf("threadpool: task panicked: %v", r))
			}
		}()
		v, err := f()
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(v)
	})
	if !ok {
		var zero T
		return future.MakeReadyFuture(zero)
	}
	return p.Future()
}
