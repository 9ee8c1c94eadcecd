// Copyright (c) 2022 The tide Authors
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

package reactor

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/internal/netpoll"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// InThisLoop reports whether the caller is executing on this loop's own
// goroutine. run() pins that goroutine to an OS thread with LockOSThread
// and records its tid once at startup; SafeSend-style call sites compare
// against the calling goroutine's tid to skip the Trigger round-trip when
// they're already running on-loop, matching ananas's Connection::SafeSend
// checking EventLoop::InThisLoop() before deciding to post or call direct.
func (el *eventloop) InThisLoop() bool {
	return atomic.LoadInt32(&el.loopTid) == int32(unix.Gettid())
}

func (el *eventloop) callback(fd int, ev netpoll.IOEvent) error {
	if v, ok := el.connections.Get(fd); ok {
		c := v.(*conn)
		// Don't change the ordering of processing EPOLLOUT | EPOLLRDHUP / EPOLLIN unless you're 100%
		// sure what you're doing!
		//
		// We always check the writable event first, since we must try to send any leftover
		// sendBuf data back to the peer before anything else. Polling reports EPOLLERR/EPOLLHUP
		// as ErrEvents alone, which skips write() and goes to closeConn; closeConn still makes
		// a best-effort attempt to flush sendBuf before closing.
		if ev&netpoll.OutEvents != 0 && !c.sendBuf.IsEmpty() {
			if err := el.write(c); err != nil {
				return err
			}
		}
		if ev&netpoll.ErrEvents != 0 {
			return el.closeConn(c, unix.ECONNRESET, ConnEof)
		}
		if ev&netpoll.InEvents != 0 {
			return el.read(c)
		}
		return nil
	}
	return el.accept(fd, ev)
}

func (el *eventloop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	atomic.StoreInt32(&el.loopTid, int32(unix.Gettid()))

	defer func() {
		el.closeAllSockets()
		if el.ln != nil {
			el.ln.close()
		}
		el.engine.signalShutdown()
	}()

	err := el.poller.Polling(el.callback, el.tick)
	logging.Debugf("event-loop(%d) is exiting due to error: %v", el.idx, err)
}
