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
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	gio "github.com/tidalcore/tide/reactor/internal/io"
	"github.com/tidalcore/tide/reactor/internal/netpoll"
	"github.com/tidalcore/tide/reactor/internal/socket"
	"github.com/tidalcore/tide/reactor/pkg/buffer"
	"github.com/tidalcore/tide/reactor/pkg/constant"
	"github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/logging"
	bsPool "github.com/tidalcore/tide/reactor/pkg/pool/byteslice"
)

// connState is the connection's lifecycle state. Transitions only ever move
// forward through this list; there is no path back to an earlier state.
type connState int32

const (
	stateNone connState = iota
	stateConnected
	statePassiveClose   // peer sent EOF, sendBuf was already empty
	stateCloseWaitWrite // peer sent EOF, draining sendBuf before closing
	stateError          // a read/write syscall failed
	stateActiveClose    // the local handler called Close/CloseWithCallback
	stateClosed
)

type conn struct {
	localAddr      net.Addr                // local addr
	remoteAddr     net.Addr                // remote addr
	loop           *eventloop              // owning event-loop
	sendBuf        *buffer.Vector          // owned chain of bytes not yet written to the peer
	pollAttachment *netpoll.PollAttachment // connection attachment for poller
	recvBuf        *buffer.Ring            // leftover bytes not yet consumed by OnTraffic
	buffer         []byte                  // the latest read chunk, valid only during dispatch
	batchSendBuf   buffer.SliceVector      // borrowed writes queued during the current dispatch
	fd             int                     // file descriptor

	opened         bool
	inDispatch     bool
	highWaterFired bool
	state          connState
	destroySeq     uint64 // monotonic sequence assigned when queued for deferred destroy
}

func newTCPConn(fd int, el *eventloop, localAddr, remoteAddr net.Addr) (c *conn) {
	c = &conn{
		fd:         fd,
		loop:       el,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		state:      stateConnected,
	}
	c.sendBuf = buffer.NewVector(el.engine.opts.WriteBufferCap)
	c.recvBuf = buffer.NewRing(el.engine.opts.ReadBufferCap)
	c.pollAttachment = netpoll.GetPollAttachment()
	c.pollAttachment.FD = fd
	return
}

func (c *conn) releaseTCP() {
	c.opened = false
	c.buffer = nil
	if addr, ok := c.localAddr.(*net.TCPAddr); ok && c.localAddr != c.loop.engine.el.ln.addr {
		bsPool.Put(addr.IP)
	}
	if addr, ok := c.remoteAddr.(*net.TCPAddr); ok {
		bsPool.Put(addr.IP)
	}
	c.localAddr = nil
	c.remoteAddr = nil
	c.recvBuf.Done()
	c.sendBuf.Release()
	c.batchSendBuf.Reset()
	netpoll.PutPollAttachment(c.pollAttachment)
	c.pollAttachment = nil
	c.state = stateClosed
}

// finalize is releaseTCP's entry point from the deferred-destroy list: by
// the time it runs, destroyGrace has elapsed since closeConn and it's safe
// to recycle this connection's buffers even if an AsyncWrite callback was
// still in flight when the connection went down.
func (c *conn) finalize() {
	c.releaseTCP()
}

// open writes out data returned from OnOpened, the same way the teacher's
// open() path does: try a synchronous write first, fall back to sendBuf on
// EAGAIN or a partial write.
func (c *conn) open(buf []byte) error {
	n, err := unix.Write(c.fd, buf)
	if err != nil && err == unix.EAGAIN {
		_, _ = c.sendBuf.Write(buf)
		return nil
	}
	if err == nil && n < len(buf) {
		_, _ = c.sendBuf.Write(buf[n:])
	}
	return err
}

// checkHighWater fires OnHighWater the first time sendBuf crosses the
// configured threshold upward; it resets as soon as the buffer drops back
// below the threshold so a later re-crossing can fire it again.
func (c *conn) checkHighWater() {
	total := c.sendBuf.Buffered()
	hw := c.loop.engine.opts.SendBufHighWater
	if total < hw {
		c.highWaterFired = false
		return
	}
	if total >= hw && !c.highWaterFired {
		c.highWaterFired = true
		GlobalStats.HighWaterCrossings.WithLabelValues().Inc()
		logging.Warnf(constant.TitleSlowLog+" fd=%d sendBuf=%d crossed high-water mark %d", c.fd, total, hw)
		c.loop.eventHandler.OnHighWater(c)
	}
}

// Shutdown half-closes the connection per how. Write and Both drop whatever
// is still queued in sendBuf rather than draining it first — the caller
// asked to stop sending, not to wait for a final flush — logged the same
// way closeConn's active-close discard path already is.
func (c *conn) Shutdown(how ShutdownHow) error {
	if !c.opened {
		return errors.ErrClosed
	}
	switch how {
	case ShutdownRead:
		return unix.Shutdown(c.fd, unix.SHUT_RD)
	case ShutdownWrite:
		c.discardSendBuf()
		return unix.Shutdown(c.fd, unix.SHUT_WR)
	case ShutdownBoth:
		c.discardSendBuf()
		return unix.Shutdown(c.fd, unix.SHUT_RDWR)
	default:
		return errors.ErrUnsupportedOp
	}
}

func (c *conn) discardSendBuf() {
	if c.sendBuf.IsEmpty() {
		return
	}
	logging.Warnf("Shutdown: discarding %d buffered bytes on write half-close, fd=%d", c.sendBuf.Buffered(), c.fd)
	_, _ = c.sendBuf.Discard(c.sendBuf.Buffered())
	c.checkHighWater()
	_ = c.loop.poller.ModRead(c.pollAttachment)
}

func (c *conn) write(data []byte) (n int, err error) {
	if !c.opened {
		return 0, errors.ErrClosed
	}
	n = len(data)
	if c.inDispatch {
		c.batchSendBuf.Append(data)
		return
	}
	return c.sendNow(data)
}

func (c *conn) writev(bs [][]byte) (n int, err error) {
	if !c.opened {
		return 0, errors.ErrClosed
	}
	for _, b := range bs {
		n += len(b)
	}
	if c.inDispatch {
		for _, b := range bs {
			c.batchSendBuf.Append(b)
		}
		return
	}
	return c.sendNowV(bs)
}

// sendNow is the non-batched synchronous send path: it tries the syscall
// immediately when sendBuf is empty, otherwise the data is appended to
// preserve packet ordering.
func (c *conn) sendNow(data []byte) (n int, err error) {
	n = len(data)
	if !c.sendBuf.IsEmpty() {
		_, _ = c.sendBuf.Write(data)
		c.checkHighWater()
		return
	}
	var sent int
	if sent, err = unix.Write(c.fd, data); err != nil {
		if err == unix.EAGAIN {
			_, _ = c.sendBuf.Write(data)
			err = c.loop.poller.ModReadWrite(c.pollAttachment)
			c.checkHighWater()
			return
		}
		c.state = stateError
		return -1, c.loop.closeConn(c, os.NewSyscallError("write", err), ConnErr)
	}
	if sent < n {
		_, _ = c.sendBuf.Write(data[sent:])
		err = c.loop.poller.ModReadWrite(c.pollAttachment)
		c.checkHighWater()
	}
	return
}

func (c *conn) sendNowV(bs [][]byte) (n int, err error) {
	for _, b := range bs {
		n += len(b)
	}
	if !c.sendBuf.IsEmpty() {
		_, _ = c.sendBuf.Writev(bs)
		c.checkHighWater()
		return
	}
	var sent int
	if sent, err = gio.Writev(c.fd, bs); err != nil {
		if err == unix.EAGAIN {
			_, _ = c.sendBuf.Writev(bs)
			err = c.loop.poller.ModReadWrite(c.pollAttachment)
			c.checkHighWater()
			return
		}
		c.state = stateError
		return -1, c.loop.closeConn(c, os.NewSyscallError("write", err), ConnErr)
	}
	if sent < n {
		var pos int
		for i := range bs {
			bn := len(bs[i])
			if sent < bn {
				bs[i] = bs[i][sent:]
				pos = i
				break
			}
			sent -= bn
		}
		_, _ = c.sendBuf.Writev(bs[pos:])
		err = c.loop.poller.ModReadWrite(c.pollAttachment)
		c.checkHighWater()
	}
	return
}

// flushBatch drains whatever OnTraffic queued into batchSendBuf during the
// current dispatch into a single writev(2) call, coalescing what would
// otherwise have been several small syscalls. Any unsent residue is copied
// into sendBuf — this is the one unavoidable copy, matching SafeSend's
// single-copy contract for data crossing out of the borrowed batch.
func (c *conn) flushBatch() error {
	if c.batchSendBuf.Empty() {
		return nil
	}
	slices := c.batchSendBuf.Slices()
	total := c.batchSendBuf.Len()
	defer c.batchSendBuf.Reset()

	if !c.sendBuf.IsEmpty() {
		_, _ = c.sendBuf.Writev(slices)
		c.checkHighWater()
		return nil
	}

	sent, err := gio.Writev(c.fd, slices)
	if err != nil {
		if err == unix.EAGAIN {
			_, _ = c.sendBuf.Writev(slices)
			c.checkHighWater()
			return c.loop.poller.ModReadWrite(c.pollAttachment)
		}
		c.state = stateError
		return c.loop.closeConn(c, os.NewSyscallError("write", err), ConnErr)
	}
	if sent < total {
		var pos, skipped int
		for i := range slices {
			bn := len(slices[i])
			if skipped+bn > sent {
				slices[i] = slices[i][sent-skipped:]
				pos = i
				break
			}
			skipped += bn
		}
		_, _ = c.sendBuf.Writev(slices[pos:])
		c.checkHighWater()
		return c.loop.poller.ModReadWrite(c.pollAttachment)
	}
	return nil
}

type asyncWriteHook struct {
	callback AsyncCallback
	data     []byte
}

func (c *conn) asyncWrite(itf interface{}) (err error) {
	if !c.opened {
		return nil
	}
	hook := itf.(*asyncWriteHook)
	_, err = c.sendNow(hook.data)
	if hook.callback != nil {
		_ = hook.callback(c)
	}
	return
}

type asyncWritevHook struct {
	callback AsyncCallback
	data     [][]byte
}

func (c *conn) asyncWritev(itf interface{}) (err error) {
	if !c.opened {
		return nil
	}
	hook := itf.(*asyncWritevHook)
	_, err = c.sendNowV(hook.data)
	if hook.callback != nil {
		_ = hook.callback(c)
	}
	return
}

func (c *conn) resetBuffer() {
	c.buffer = c.buffer[:0]
	c.recvBuf.Reset()
}

// ================================== Non-concurrency-safe API's ==================================

func (c *conn) Read(p []byte) (n int, err error) {
	if c.recvBuf.IsEmpty() {
		n = copy(p, c.buffer)
		c.buffer = c.buffer[n:]
		if n == 0 && len(p) > 0 {
			err = io.EOF
		}
		return
	}
	n, _ = c.recvBuf.Read(p)
	if n == len(p) {
		return
	}
	m := copy(p[n:], c.buffer)
	n += m
	c.buffer = c.buffer[m:]
	return
}

func (c *conn) Next(n int) (buf []byte, err error) {
	inBufferLen := c.recvBuf.Buffered()
	if totalLen := inBufferLen + len(c.buffer); n > totalLen {
		return nil, io.ErrShortBuffer
	} else if n <= 0 {
		n = totalLen
	}
	if c.recvBuf.IsEmpty() {
		buf = c.buffer[:n]
		c.buffer = c.buffer[n:]
		return
	}
	head, tail := c.recvBuf.Peek(n)
	defer c.recvBuf.Discard(n) //nolint:errcheck
	if len(head) >= n {
		return head[:n], err
	}
	c.loop.cache.Reset()
	c.loop.cache.Write(head)
	c.loop.cache.Write(tail)
	if inBufferLen >= n {
		return c.loop.cache.Bytes(), err
	}

	remaining := n - inBufferLen
	c.loop.cache.Write(c.buffer[:remaining])
	c.buffer = c.buffer[remaining:]
	return c.loop.cache.Bytes(), err
}

func (c *conn) Peek(n int) (buf []byte, err error) {
	inBufferLen := c.recvBuf.Buffered()
	if totalLen := inBufferLen + len(c.buffer); n > totalLen {
		return nil, io.ErrShortBuffer
	} else if n <= 0 {
		n = totalLen
	}
	if c.recvBuf.IsEmpty() {
		return c.buffer[:n], err
	}
	head, tail := c.recvBuf.Peek(n)
	if len(head) >= n {
		return head[:n], err
	}
	c.loop.cache.Reset()
	c.loop.cache.Write(head)
	c.loop.cache.Write(tail)
	if inBufferLen >= n {
		return c.loop.cache.Bytes(), err
	}

	remaining := n - inBufferLen
	c.loop.cache.Write(c.buffer[:remaining])
	return c.loop.cache.Bytes(), err
}

func (c *conn) Discard(n int) (int, error) {
	inBufferLen := c.recvBuf.Buffered()
	tempBufferLen := len(c.buffer)
	if inBufferLen+tempBufferLen < n || n <= 0 {
		c.resetBuffer()
		return inBufferLen + tempBufferLen, nil
	}
	if c.recvBuf.IsEmpty() {
		c.buffer = c.buffer[n:]
		return n, nil
	}

	discarded, _ := c.recvBuf.Discard(n)
	if discarded < inBufferLen {
		return discarded, nil
	}

	remaining := n - inBufferLen
	c.buffer = c.buffer[remaining:]
	return n, nil
}

func (c *conn) Write(p []byte) (int, error) {
	return c.write(p)
}

func (c *conn) Writev(bs [][]byte) (int, error) {
	return c.writev(bs)
}

func (c *conn) ReadFrom(r io.Reader) (int64, error) {
	return c.sendBuf.ReadFrom(r)
}

func (c *conn) WriteTo(w io.Writer) (n int64, err error) {
	if !c.recvBuf.IsEmpty() {
		if n, err = c.recvBuf.WriteTo(w); err != nil {
			return
		}
	}
	var m int
	m, err = w.Write(c.buffer)
	n += int64(m)
	c.buffer = c.buffer[m:]
	return
}

func (c *conn) Flush() error {
	if c.sendBuf.IsEmpty() {
		return nil
	}
	return c.loop.write(c)
}

func (c *conn) InboundBuffered() int {
	return c.recvBuf.Buffered() + len(c.buffer)
}

func (c *conn) OutboundBuffered() int {
	return c.sendBuf.Buffered()
}

func (c *conn) SetDeadline(_ time.Time) error {
	return errors.ErrUnsupportedOp
}

func (c *conn) SetReadDeadline(_ time.Time) error {
	return errors.ErrUnsupportedOp
}

func (c *conn) SetWriteDeadline(_ time.Time) error {
	return errors.ErrUnsupportedOp
}

// Implementation of Socket interface

func (c *conn) Fd() int                        { return c.fd }
func (c *conn) Dup() (fd int, err error)       { fd, _, err = netpoll.Dup(c.fd); return }
func (c *conn) SetReadBuffer(bytes int) error  { return socket.SetRecvBuffer(c.fd, bytes) }
func (c *conn) SetWriteBuffer(bytes int) error { return socket.SetSendBuffer(c.fd, bytes) }
func (c *conn) SetLinger(sec int) error        { return socket.SetLinger(c.fd, sec) }
func (c *conn) SetKeepAlivePeriod(d time.Duration) error {
	return socket.SetKeepAlivePeriod(c.fd, int(d.Seconds()))
}
func (c *conn) IsOpened() bool { return c.opened }

func (c *conn) LocalAddr() string {
	if c.localAddr == nil {
		return "-"
	}
	return c.localAddr.String()
}
func (c *conn) RemoteAddr() string {
	if c.remoteAddr == nil {
		return "-"
	}
	return c.remoteAddr.String()
}

// ==================================== Concurrency-safe API's ====================================

// AsyncWrite is the SafeSend equivalent: if the caller is already running on
// this connection's own loop goroutine, it's identical to a synchronous
// send — same as ananas's SafeSend calling SendPacket directly once
// InThisLoop() holds. Otherwise the data is copied once into the closure
// below so the caller's slice can be reused immediately, and the actual
// write is posted onto the owning loop goroutine.
func (c *conn) AsyncWrite(buf []byte, callback AsyncCallback) error {
	if c.loop.InThisLoop() {
		return c.asyncWrite(&asyncWriteHook{callback, buf})
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return c.loop.poller.Trigger(c.asyncWrite, &asyncWriteHook{callback, cp})
}

func (c *conn) AsyncWritev(bs [][]byte, callback AsyncCallback) error {
	if c.loop.InThisLoop() {
		return c.asyncWritev(&asyncWritevHook{callback, bs})
	}
	cp := make([][]byte, len(bs))
	for i, b := range bs {
		cp[i] = make([]byte, len(b))
		copy(cp[i], b)
	}
	return c.loop.poller.Trigger(c.asyncWritev, &asyncWritevHook{callback, cp})
}

func (c *conn) CloseWithCallback(callback AsyncCallback) error {
	closeAndNotify := func(_ interface{}) (err error) {
		err = c.loop.closeConn(c, nil, ConnActive)
		if callback != nil {
			_ = callback(c)
		}
		return
	}
	if c.loop.InThisLoop() {
		return closeAndNotify(nil)
	}
	return c.loop.poller.Trigger(closeAndNotify, nil)
}

func (c *conn) Close() error {
	if c.loop.InThisLoop() {
		return c.loop.closeConn(c, nil, ConnActive)
	}
	return c.loop.poller.Trigger(func(_ interface{}) (err error) {
		return c.loop.closeConn(c, nil, ConnActive)
	}, nil)
}
