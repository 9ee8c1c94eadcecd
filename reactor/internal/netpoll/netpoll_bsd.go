// Copyright (c) 2019 Andy Pan
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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package netpoll

import (
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/internal/queue"
	"github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// IOEvent is the kqueue filter type.
type IOEvent = int16

const (
	InEvents  IOEvent = unix.EVFILT_READ
	OutEvents IOEvent = unix.EVFILT_WRITE
	ErrEvents IOEvent = -128 // synthetic filter value for EV_EOF/EV_ERROR, never returned by the kernel
)

// Poller wraps a kqueue instance plus the cross-goroutine task queues a
// caller posts work to via Trigger/UrgentTrigger.
type Poller struct {
	fd                   int
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue
	urgentAsyncTaskQueue queue.AsyncTaskQueue
}

var wakeEvent = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// OpenPoller instantiates a kqueue-backed Poller.
func OpenPoller() (*Poller, error) {
	p := new(Poller)
	var err error
	if p.fd, err = unix.Kqueue(); err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err = unix.Kevent(p.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = p.Close()
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	p.asyncTaskQueue = queue.NewLockFreeQueue()
	p.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return p, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *Poller) wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		if _, err := unix.Kevent(p.fd, wakeEvent, nil, nil); err != nil && err != unix.EAGAIN {
			return os.NewSyscallError("kevent trigger", err)
		}
	}
	return nil
}

// Trigger enqueues fn to run on the loop goroutine on the next Polling pass.
func (p *Poller) Trigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.asyncTaskQueue.Enqueue(task)
	return p.wake()
}

// UrgentTrigger is like Trigger but jumps the urgent queue, drained first.
func (p *Poller) UrgentTrigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.urgentAsyncTaskQueue.Enqueue(task)
	return p.wake()
}

func (p *Poller) runTasks() error {
	task := p.urgentAsyncTaskQueue.Dequeue()
	for ; task != nil; task = p.urgentAsyncTaskQueue.Dequeue() {
		if err := task.Run(task.Arg); err != nil {
			queue.PutTask(task)
			if err == errors.ErrEngineShutdown {
				return err
			}
			logging.Warnf("error occurs in user-defined function, %v", err)
		} else {
			queue.PutTask(task)
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		task = p.asyncTaskQueue.Dequeue()
		if task == nil {
			break
		}
		if err := task.Run(task.Arg); err != nil {
			queue.PutTask(task)
			if err == errors.ErrEngineShutdown {
				return err
			}
			logging.Warnf("error occurs in user-defined function, %v", err)
		} else {
			queue.PutTask(task)
		}
	}
	atomic.StoreInt32(&p.wakeupCall, 0)
	return nil
}

// Polling blocks the calling goroutine, dispatching ready fds to callback
// and calling tick once per iteration for deferred-destroy / periodic work.
func (p *Poller) Polling(callback func(fd int, ev IOEvent) error, tick func()) error {
	events := make([]unix.Kevent_t, InitPollEventsCap)
	for {
		n, err := unix.Kevent(p.fd, nil, events, nil)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			tick()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in kqueue: %v", os.NewSyscallError("kevent wait", err))
			return err
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			if ev.Ident == 0 && ev.Filter == unix.EVFILT_USER {
				if rerr := p.runTasks(); rerr != nil {
					return rerr
				}
				continue
			}
			filter := ev.Filter
			if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
				filter = ErrEvents
			}
			switch cerr := callback(int(ev.Ident), filter); cerr {
			case nil:
			case errors.ErrAcceptSocket, errors.ErrEngineShutdown:
				return cerr
			default:
				logging.Warnf("error occurs in event-loop: %v", cerr)
			}
		}

		if n == len(events) {
			events = append(events, make([]unix.Kevent_t, len(events))...)
		}
		tick()
	}
}

func (p *Poller) ctl(flags uint16, pa *PollAttachment, filter int16) error {
	var ev unix.Kevent_t
	ev.Ident = uint64(pa.FD)
	ev.Flags = flags
	ev.Filter = filter
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent", err)
}

// AddRead registers fd for readable events.
func (p *Poller) AddRead(pa *PollAttachment) error {
	return p.ctl(unix.EV_ADD, pa, unix.EVFILT_READ)
}

// AddWrite registers fd for writable events.
func (p *Poller) AddWrite(pa *PollAttachment) error {
	return p.ctl(unix.EV_ADD, pa, unix.EVFILT_WRITE)
}

// ModRead stops monitoring fd for writable events, leaving read monitoring intact.
func (p *Poller) ModRead(pa *PollAttachment) error {
	return p.ctl(unix.EV_DELETE, pa, unix.EVFILT_WRITE)
}

// ModReadWrite additionally arms writable-event monitoring on fd.
func (p *Poller) ModReadWrite(pa *PollAttachment) error {
	return p.ctl(unix.EV_ADD, pa, unix.EVFILT_WRITE)
}

// Delete removes fd's read and write filters from the poller.
func (p *Poller) Delete(fd int) error {
	_, _ = unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_WRITE},
	}, nil, nil)
	return nil
}
