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

// Package future is a generic Future/Promise pair modeled on ananas's
// Future.h: a Promise is filled exactly once, from whatever goroutine
// finishes the work, and a Future either blocks for the result or runs a
// continuation when one arrives.
package future

import (
	"fmt"
	"sync"
)

// Try holds either a value or the error that prevented one, the same
// value-or-exception union ananas's Try<T> wraps a task's result in.
type Try[T any] struct {
	Value T
	Err   error
}

type state[T any] struct {
	mu    sync.Mutex
	ready chan struct{}
	once  sync.Once
	val   Try[T]
	cbs   []func(Try[T])
}

func newState[T any]() *state[T] {
	return &state[T]{ready: make(chan struct{})}
}

// Promise is the write side of a Future: exactly one of SetValue/SetError
// may be called, and only the first call has any effect.
type Promise[T any] struct {
	s *state[T]
}

// NewPromise returns a Promise paired with an unfulfilled Future.
func NewPromise[T any]() Promise[T] {
	return Promise[T]{s: newState[T]()}
}

// Future returns the read side paired with this Promise.
func (p Promise[T]) Future() Future[T] {
	return Future[T]{s: p.s}
}

// SetValue fulfills the promise with v.
func (p Promise[T]) SetValue(v T) {
	p.complete(Try[T]{Value: v})
}

// SetError fulfills the promise with err.
func (p Promise[T]) SetError(err error) {
	p.complete(Try[T]{Err: err})
}

func (p Promise[T]) complete(t Try[T]) {
	p.s.once.Do(func() {
		p.s.mu.Lock()
		p.s.val = t
		cbs := p.s.cbs
		p.s.cbs = nil
		// ready closes under the lock so an OnComplete racing this call either
		// lands in cbs before the swap above or sees ready and runs fn itself.
		close(p.s.ready)
		p.s.mu.Unlock()
		for _, cb := range cbs {
			cb(t)
		}
	})
}

// Future is the read side of a Promise.
type Future[T any] struct {
	s *state[T]
}

// MakeReadyFuture returns a Future that is already fulfilled with v, for
// callers (e.g. a shut-down ThreadPool) that need to return a Future
// without doing any work.
func MakeReadyFuture[T any](v T) Future[T] {
	p := NewPromise[T]()
	p.SetValue(v)
	return p.Future()
}

// Get blocks until the future is fulfilled and returns its value or error.
func (f Future[T]) Get() (T, error) {
	<-f.s.ready
	return f.s.val.Value, f.s.val.Err
}

// IsReady reports whether the future has already been fulfilled.
func (f Future[T]) IsReady() bool {
	select {
	case <-f.s.ready:
		return true
	default:
		return false
	}
}

// OnComplete registers fn to run with the future's Try once it is
// fulfilled, on whichever goroutine calls SetValue/SetError (or
// synchronously, if the future is already done).
func (f Future[T]) OnComplete(fn func(Try[T])) {
	f.s.mu.Lock()
	select {
	case <-f.s.ready:
		f.s.mu.Unlock()
		fn(f.s.val)
		return
	default:
	}
	f.s.cbs = append(f.s.cbs, fn)
	f.s.mu.Unlock()
}

// Then chains fn onto f, returning a Future that resolves once fn has run
// against f's result. A panic inside fn is recovered and reported as the
// resulting future's error, matching threadpool.Execute's task wrapper.
func Then[T, U any](f Future[T], fn func(Try[T]) (U, error)) Future[U] {
	p := NewPromise[U]()
	f.OnComplete(func(t Try[T]) {
		defer func() {
			if r := recover(); r != nil {
				var zero U
				_ = zero
				p.SetError(toPanicError(r))
			}
		}()
		u, err := fn(t)
		if err != nil {
			p.SetError(err)
			return
		}
		p.SetValue(u)
	})
	return p.Future()
}

func toPanicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
