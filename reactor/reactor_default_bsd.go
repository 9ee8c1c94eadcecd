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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package reactor

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/internal/netpoll"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// InThisLoop reports whether the caller is executing on this loop's own
// goroutine. Unlike Linux, the BSDs and Darwin don't expose a portable
// per-thread id through x/sys/unix (no Gettid equivalent), so there's no
// safe way to compare identities here; always reporting false just means
// AsyncWrite/AsyncWritev/Close always take the Trigger round-trip on these
// platforms instead of the on-loop fast path Linux gets.
func (el *eventloop) InThisLoop() bool {
	return false
}

func (el *eventloop) callback(fd int, filter netpoll.IOEvent) (err error) {
	if v, ok := el.connections.Get(fd); ok {
		c := v.(*conn)
		switch filter {
		case netpoll.ErrEvents:
			err = el.closeConn(c, unix.ECONNRESET, ConnEof)
		case netpoll.OutEvents:
			if !c.sendBuf.IsEmpty() {
				err = el.write(c)
			}
		case netpoll.InEvents:
			err = el.read(c)
		}
		return
	}
	return el.accept(fd, filter)
}

func (el *eventloop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

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
