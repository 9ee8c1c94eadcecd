// Copyright (c) 2022 The tide Authors
// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
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
	"sync/atomic"

	"github.com/tidalcore/tide/reactor/internal/netpoll"
	"github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/logging"
	"github.com/tidalcore/tide/reactor/pkg/threadpool"
)

type engine struct {
	ln           *listener             // the listener for accepting new connections
	el           *eventloop            // the accept loop (hosts the listener fd)
	lg           *loopGroup            // round-robin chooser for where new connections land
	tp           *threadpool.ThreadPool // worker pool for blocking work offloaded out of OnTraffic
	wg           sync.WaitGroup        // event-loop close WaitGroup
	opts         *Options              // options with engine
	once         sync.Once             // make sure only signalShutdown once
	cond         *sync.Cond            // shutdown signaler
	eventHandler EventHandler          // user eventHandler
	inShutdown   int32                 // whether the engine is in shutdown
}

func (eng *engine) isInShutdown() bool {
	return atomic.LoadInt32(&eng.inShutdown) == 1
}

// waitForShutdown waits for a signal to shut down.
func (eng *engine) waitForShutdown() {
	eng.cond.L.Lock()
	eng.cond.Wait()
	eng.cond.L.Unlock()
}

// signalShutdown signals the engine to shut down.
func (eng *engine) signalShutdown() {
	eng.once.Do(func() {
		eng.cond.L.Lock()
		eng.cond.Signal()
		eng.cond.L.Unlock()
	})
}

func (eng *engine) startEventLoop(el *eventloop) {
	eng.wg.Add(1)
	go func() {
		el.run()
		eng.wg.Done()
	}()
}

func (eng *engine) closeEventLoops() {
	eng.lg.iterate(func(el *eventloop) {
		_ = el.poller.Close()
	})
}

func (eng *engine) newSubLoop(idx int) (*eventloop, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	el := new(eventloop)
	el.idx = idx
	el.engine = eng
	el.poller = p
	el.buffer = make([]byte, eng.opts.ReadBufferCap)
	el.eventHandler = eng.eventHandler
	el.destroyList = newDestroyList()
	return el, nil
}

func (eng *engine) start() (err error) {
	ln := eng.ln
	eng.ln = nil

	eng.lg = newLoopGroup()
	for i := 0; i < eng.opts.NumEventLoop; i++ {
		var el *eventloop
		if el, err = eng.newSubLoop(i); err != nil {
			return
		}
		eng.lg.register(el)
	}

	eng.el = eng.lg.loops[0]
	eng.el.ln = ln
	if err = eng.el.poller.AddRead(ln.packPollAttachment(eng.el.accept)); err != nil {
		return
	}

	// Start every sub event-loop in background.
	eng.lg.iterate(eng.startEventLoop)
	return
}

func (eng *engine) stop(s Engine) {
	// Wait on a signal for shutdown
	eng.waitForShutdown()

	eng.eventHandler.OnShutdown(s)

	eng.lg.iterate(func(el *eventloop) {
		err := el.poller.UrgentTrigger(func(_ interface{}) error { return errors.ErrEngineShutdown }, nil)
		if err != nil {
			logging.Errorf("failed to call UrgentTrigger on sub event-loop(%d) when stopping engine: %v", el.idx, err)
		}
	})

	// Wait on all loops to complete reading events
	eng.wg.Wait()

	eng.closeEventLoops()

	eng.tp.Shutdown()
	eng.tp.JoinAll()

	atomic.StoreInt32(&eng.inShutdown, 1)
}

func serve(eventHandler EventHandler, listener *listener, options *Options, protoAddr string) error {
	eng := new(engine)
	eng.opts = options
	eng.eventHandler = eventHandler
	eng.ln = listener
	eng.tp = threadpool.New(options.MaxThreads, options.MaxIdleThreads, options.MonitorInterval)

	eng.cond = sync.NewCond(&sync.Mutex{})

	e := Engine{eng: eng}

	switch eng.eventHandler.OnBoot(e) {
	case None:
	case Shutdown:
		return nil
	}

	go statsLoop(eng)

	if err := eng.start(); err != nil {
		eng.closeEventLoops()
		logging.Errorf("reactor engine is stopping with error: %v", err)
		return err
	}
	defer eng.stop(e)

	allEngines.Store(protoAddr, eng)

	return nil
}
