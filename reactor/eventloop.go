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
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cornelk/hashmap"

	"github.com/tidalcore/tide/reactor/internal/io"
	"github.com/tidalcore/tide/reactor/internal/netpoll"
	gerrors "github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

type eventloop struct {
	ln           *listener       // listener
	idx          int             // loop index in the engine loops list
	cache        bytes.Buffer    // temporary buffer for scattered bytes
	engine       *engine         // engine in loop
	poller       *netpoll.Poller // epoll or kqueue
	buffer       []byte          // read packet buffer whose capacity is set by user, default value is 64KB
	connCount    int32           // number of active connections in event-loop
	connections  hashmap.HashMap // TCP connection map: fd -> *conn, read concurrently by the admin surface
	eventHandler EventHandler    // user eventHandler
	nextTick     time.Time       // next available tick time
	destroyList  *destroyList    // sequence-ordered deferred-destroy queue
	loopTid      int32           // OS thread id of the goroutine running el.run(), set once at startup
}

// lookupConn looks fd up in the loop's connection registry: it is safe to
// call from any goroutine while the loop thread concurrently inserts and
// deletes entries.
func (el *eventloop) lookupConn(fd int) (*conn, bool) {
	v, ok := el.connections.Get(fd)
	if !ok {
		return nil, false
	}
	return v.(*conn), true
}

// connCountSnapshot reports how many connections are registered right now,
// read from the registry itself; el.connCount is kept separately for the hot
// path and is what Engine.CountConnections sums.
func (el *eventloop) connCountSnapshot() int {
	return el.connections.Len()
}

func (el *eventloop) addConn(delta int32) {
	atomic.AddInt32(&el.connCount, delta)
}

func (el *eventloop) loadConnCount() int32 {
	return atomic.LoadInt32(&el.connCount)
}

func (el *eventloop) closeAllSockets() {
	// Close loops and all outstanding connections
	for kv := range el.connections.Iter() {
		_ = el.closeConn(kv.Value.(*conn), nil, ConnEof)
	}
}

func (el *eventloop) register(itf interface{}) error {
	c := itf.(*conn)
	if err := el.poller.AddRead(c.pollAttachment); err != nil {
		_ = unix.Close(c.fd)
		c.releaseTCP()
		return err
	}
	el.connections.Insert(c.fd, c)
	return el.open(c)
}

func (el *eventloop) open(c *conn) error {
	c.opened = true
	c.state = stateConnected
	el.addConn(1)
	GlobalStats.TotalConnections.WithLabelValues().Inc()

	out, action := el.eventHandler.OnOpened(c)
	if out != nil {
		if err := c.open(out); err != nil {
			return err
		}
	}

	if !c.sendBuf.IsEmpty() {
		if err := el.poller.AddWrite(c.pollAttachment); err != nil {
			return err
		}
	}

	return el.handleAction(c, action)
}

// read implements the reactor's single read-dispatch pass: pull whatever is
// available off the wire, hand it to OnTraffic once, then flush anything
// OnTraffic queued via the batched send path in one shot.
func (el *eventloop) read(c *conn) error {
	n, err := unix.Read(c.fd, el.buffer)
	if err != nil || n == 0 {
		if err == unix.EAGAIN {
			return nil
		}
		if n == 0 {
			if c.sendBuf.IsEmpty() {
				c.state = statePassiveClose
				return el.closeConn(c, nil, ConnEof)
			}
			c.state = stateCloseWaitWrite
			return nil
		}
		c.state = stateError
		return el.closeConn(c, os.NewSyscallError("read", err), ConnErr)
	}

	c.buffer = el.buffer[:n]

	// Per the decoder contract, OnTraffic isn't worth invoking until there's
	// at least MinPacketSize bytes on hand to make progress with; stash the
	// fresh bytes and wait for the next readable edge otherwise.
	if c.InboundBuffered() < el.engine.opts.MinPacketSize {
		_, _ = c.recvBuf.Write(c.buffer)
		c.buffer = c.buffer[:0]
		return nil
	}

	c.inDispatch = true
	action := el.eventHandler.OnTraffic(c)
	c.inDispatch = false

	if !c.opened {
		// the handler closed the connection itself; nothing left to flush.
		return nil
	}

	if ferr := c.flushBatch(); ferr != nil {
		return ferr
	}

	// Whatever OnTraffic didn't consume stays buffered for the next Peek/Next/Read.
	if len(c.buffer) > 0 {
		_, _ = c.recvBuf.Write(c.buffer)
		c.buffer = c.buffer[:0]
	}

	return el.handleAction(c, action)
}

func (el *eventloop) write(c *conn) error {
	iov := c.sendBuf.Peek(-1)
	if len(iov) == 0 {
		return nil
	}
	var (
		n   int
		err error
	)
	if len(iov) > 1 {
		if len(iov) > el.engine.opts.IOVMax {
			iov = iov[:el.engine.opts.IOVMax]
		}
		n, err = io.Writev(c.fd, iov)
	} else {
		n, err = unix.Write(c.fd, iov[0])
	}
	_, _ = c.sendBuf.Discard(n)
	c.checkHighWater()
	switch err {
	case nil:
	case unix.EAGAIN:
		return nil
	default:
		c.state = stateError
		return el.closeConn(c, os.NewSyscallError("write", err), ConnErr)
	}

	// All data have been drained, it's no need to monitor the writable events,
	// remove the writable event from poller to help the future event-loops.
	if c.sendBuf.IsEmpty() {
		_ = el.poller.ModRead(c.pollAttachment)
		if c.state == stateCloseWaitWrite {
			return el.closeConn(c, nil, ConnEof)
		}
	}

	return nil
}

func (el *eventloop) closeConn(c *conn, err error, closeType ConnCloseType) (rerr error) {
	if !c.opened {
		return
	}

	if closeType == ConnActive {
		c.state = stateActiveClose
		// An active close (the handler called Close/CloseWithCallback) drops
		// whatever is still queued rather than blocking the loop on a final
		// drain; the caller asked to be done, not to wait.
		if !c.sendBuf.IsEmpty() {
			logging.Warnf("closeConn: discarding %d buffered bytes on active close, fd=%d", c.sendBuf.Buffered(), c.fd)
		}
	} else if !c.sendBuf.IsEmpty() {
		// Best-effort: send residual data in buffer back to the peer before
		// actually closing the connection.
		for !c.sendBuf.IsEmpty() {
			iov := c.sendBuf.Peek(0)
			if len(iov) > el.engine.opts.IOVMax {
				iov = iov[:el.engine.opts.IOVMax]
			}
			if n, e := io.Writev(c.fd, iov); e != nil {
				logging.Warnf("closeConn: error occurs when sending data back to peer, %v", e)
				break
			} else {
				_, _ = c.sendBuf.Discard(n)
			}
		}
	}

	err0, err1 := el.poller.Delete(c.fd), unix.Close(c.fd)
	if err0 != nil {
		rerr = fmt.Errorf("failed to delete fd=%d from poller in event-loop(%d): %v", c.fd, el.idx, err0)
	}
	if err1 != nil {
		err1 = fmt.Errorf("failed to close fd=%d in event-loop(%d): %v", c.fd, el.idx, os.NewSyscallError("close", err1))
		if rerr != nil {
			rerr = stderrors.New(rerr.Error() + " & " + err1.Error())
		} else {
			rerr = err1
		}
	}

	el.connections.Del(c.fd)
	el.addConn(-1)

	el.eventHandler.OnClosed(c, err)
	switch closeType {
	case ConnEof:
		GlobalStats.ConnectionsEof.WithLabelValues().Inc()
	case ConnErr:
		GlobalStats.ConnectionsErr.WithLabelValues().Inc()
	}

	c.opened = false
	if el.destroyList != nil {
		el.destroyList.push(c)
	} else {
		c.finalize()
	}

	return
}

// tick runs once per Polling iteration: it drains whatever entries in the
// deferred-destroy list have passed their grace period, the same cadence the
// old per-second reload ticker used.
func (el *eventloop) tick() {
	now := time.Now()
	if now.Before(el.nextTick) {
		return
	}
	el.nextTick = now.Add(time.Second)

	if el.destroyList != nil {
		el.destroyList.drain(now)
	}
}

func (el *eventloop) handleAction(c *conn, action Action) error {
	switch action {
	case None:
		return nil
	case Close:
		c.state = stateActiveClose
		return el.closeConn(c, nil, ConnActive)
	case Shutdown:
		return gerrors.ErrEngineShutdown
	default:
		return nil
	}
}
