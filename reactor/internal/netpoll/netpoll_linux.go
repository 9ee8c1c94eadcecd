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

//go:build linux
// +build linux

package netpoll

import (
	"encoding/binary"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/internal/queue"
	"github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// IOEvent is the epoll event-mask type.
type IOEvent = uint32

const (
	InEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	OutEvents = unix.EPOLLOUT
	ErrEvents = unix.EPOLLERR | unix.EPOLLHUP
)

// Poller wraps an epoll instance plus the cross-goroutine task queues a
// caller posts work to via Trigger/UrgentTrigger.
type Poller struct {
	fd                   int
	efd                  int // eventfd used to wake epoll_wait
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue
	urgentAsyncTaskQueue queue.AsyncTaskQueue
}

// OpenPoller instantiates an epoll-backed Poller.
func OpenPoller() (*Poller, error) {
	p := new(Poller)
	var err error
	if p.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if p.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(p.fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, p.efd, &unix.EpollEvent{Fd: int32(p.efd), Events: unix.EPOLLIN}); err != nil {
		_ = unix.Close(p.efd)
		_ = unix.Close(p.fd)
		return nil, os.NewSyscallError("epoll_ctl add eventfd", err)
	}
	p.asyncTaskQueue = queue.NewLockFreeQueue()
	p.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return p, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	err0 := unix.Close(p.efd)
	err1 := unix.Close(p.fd)
	if err1 != nil {
		return os.NewSyscallError("close", err1)
	}
	return os.NewSyscallError("close", err0)
}

func (p *Poller) wake() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		_, err := unix.Write(p.efd, buf[:])
		return os.NewSyscallError("write eventfd", err)
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
	events := make([]unix.EpollEvent, InitPollEventsCap)
	var drainBuf [8]byte
	for {
		n, err := unix.EpollWait(p.fd, events, -1)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			tick()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in epoll_wait: %v", os.NewSyscallError("epoll_wait", err))
			return err
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)
			if fd == p.efd {
				_, _ = unix.Read(p.efd, drainBuf[:])
				if rerr := p.runTasks(); rerr != nil {
					return rerr
				}
				continue
			}
			var iev IOEvent
			switch {
			case ev.Events&ErrEvents != 0:
				iev = ErrEvents
			case ev.Events&OutEvents != 0:
				iev = OutEvents
				if ev.Events&InEvents != 0 {
					iev |= InEvents
				}
			default:
				iev = ev.Events
			}
			switch cerr := callback(fd, iev); cerr {
			case nil:
			case errors.ErrAcceptSocket, errors.ErrEngineShutdown:
				return cerr
			default:
				logging.Warnf("error occurs in event-loop: %v", cerr)
			}
		}

		if n == len(events) {
			events = append(events, make([]unix.EpollEvent, len(events))...)
		}
		tick()
	}
}

func (p *Poller) ctl(op int, pa *PollAttachment, events uint32) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, op, pa.FD, &unix.EpollEvent{
		Fd:     int32(pa.FD),
		Events: events,
	}))
}

// AddRead registers fd for readable events.
func (p *Poller) AddRead(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_ADD, pa, InEvents)
}

// AddWrite registers fd for writable events.
func (p *Poller) AddWrite(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_ADD, pa, OutEvents)
}

// ModRead resets fd's interest set to readable-only.
func (p *Poller) ModRead(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_MOD, pa, InEvents)
}

// ModReadWrite sets fd's interest set to readable and writable.
func (p *Poller) ModReadWrite(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_MOD, pa, InEvents|OutEvents)
}

// Delete removes fd from the poller's interest set.
func (p *Poller) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}
