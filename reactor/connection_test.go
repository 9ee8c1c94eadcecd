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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tidalcore/tide/reactor/internal/netpoll"
	"github.com/tidalcore/tide/reactor/pkg/buffer"
	"github.com/tidalcore/tide/reactor/pkg/errors"
)

// highWaterRecorder is a minimal EventHandler that only tracks OnHighWater
// calls, the way the teacher's mockedConn only implements what a given test
// needs rather than the whole interface meaningfully.
type highWaterRecorder struct {
	BuiltinEventEngine
	crossings int
}

func (h *highWaterRecorder) OnHighWater(_ Conn) {
	h.crossings++
}

func newTestConn(hw int) (*conn, *highWaterRecorder) {
	rec := &highWaterRecorder{}
	el := &eventloop{
		engine:       &engine{opts: &Options{SendBufHighWater: hw}},
		eventHandler: rec,
	}
	c := &conn{
		loop:    el,
		sendBuf: buffer.NewVector(0),
		recvBuf: buffer.NewRing(0),
		state:   stateConnected,
	}
	return c, rec
}

func TestCheckHighWaterFiresOnceThenResetsOnDrain(t *testing.T) {
	c, rec := newTestConn(8)

	_, _ = c.sendBuf.Write([]byte("0123456789"))
	c.checkHighWater()
	require.Equal(t, 1, rec.crossings)
	require.True(t, c.highWaterFired)

	// Still above the mark: must not fire a second time.
	c.checkHighWater()
	require.Equal(t, 1, rec.crossings)

	_, _ = c.sendBuf.Discard(10)
	c.checkHighWater()
	require.False(t, c.highWaterFired)

	_, _ = c.sendBuf.Write([]byte("0123456789"))
	c.checkHighWater()
	require.Equal(t, 2, rec.crossings)
}

func TestCheckHighWaterNeverFiresBelowMark(t *testing.T) {
	c, rec := newTestConn(100)

	_, _ = c.sendBuf.Write([]byte("short"))
	c.checkHighWater()
	require.Equal(t, 0, rec.crossings)
}

func TestWriteOnUnopenedConnReturnsErrClosed(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	c.opened = false

	_, err := c.write([]byte("hi"))
	require.ErrorIs(t, err, errors.ErrClosed)
}

func TestWritevOnUnopenedConnReturnsErrClosed(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	c.opened = false

	_, err := c.writev([][]byte{[]byte("a"), []byte("b")})
	require.ErrorIs(t, err, errors.ErrClosed)
}

func TestWriteWhileInDispatchBatchesInsteadOfSending(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	c.opened = true
	c.inDispatch = true

	n, err := c.write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, c.batchSendBuf.Len())
	require.True(t, c.sendBuf.IsEmpty())
}

func TestInboundOutboundBufferedReflectUnderlyingBuffers(t *testing.T) {
	c, _ := newTestConn(1 << 20)

	_, _ = c.recvBuf.Write([]byte("abcde"))
	c.buffer = []byte("xy")
	require.Equal(t, 7, c.InboundBuffered())

	_, _ = c.sendBuf.Write([]byte("0123"))
	require.Equal(t, 4, c.OutboundBuffered())
}

func TestNextReturnsAllBufferedBytesAcrossRecvBufAndPendingChunk(t *testing.T) {
	c, _ := newTestConn(1 << 20)

	_, _ = c.recvBuf.Write([]byte("abc"))
	c.buffer = []byte("def")

	buf, err := c.Next(-1)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(buf))
}

func TestNextShortBufferWhenRequestingMoreThanAvailable(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	_, _ = c.recvBuf.Write([]byte("ab"))

	_, err := c.Next(10)
	require.Error(t, err)
}

func TestResetBufferEmptiesBothBuffers(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	_, _ = c.recvBuf.Write([]byte("abc"))
	c.buffer = []byte("def")

	c.resetBuffer()
	require.True(t, c.recvBuf.IsEmpty())
	require.Equal(t, 0, len(c.buffer))
}

func TestLocalRemoteAddrFallBackToDashWhenNil(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	require.Equal(t, "-", c.LocalAddr())
	require.Equal(t, "-", c.RemoteAddr())
}

func TestIsOpenedReflectsState(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	require.False(t, c.IsOpened())
	c.opened = true
	require.True(t, c.IsOpened())
}

func TestShutdownOnUnopenedConnReturnsErrClosed(t *testing.T) {
	c, _ := newTestConn(1 << 20)
	c.opened = false

	require.ErrorIs(t, c.Shutdown(ShutdownBoth), errors.ErrClosed)
}

// newShutdownableConn wires up a conn backed by a real socketpair fd and a
// real poller, the way a production conn always has both, so Shutdown's
// unix.Shutdown/poller.ModRead calls have something real to act on.
func newShutdownableConn(t *testing.T) (c *conn, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })

	poller, err := netpoll.OpenPoller()
	require.NoError(t, err)
	t.Cleanup(func() { _ = poller.Close() })

	pa := netpoll.GetPollAttachment()
	pa.FD = fds[0]
	require.NoError(t, poller.AddRead(pa))

	el := &eventloop{
		engine:       &engine{opts: &Options{SendBufHighWater: 1 << 20}},
		eventHandler: &highWaterRecorder{},
		poller:       poller,
	}
	c = &conn{
		loop:           el,
		fd:             fds[0],
		sendBuf:        buffer.NewVector(0),
		recvBuf:        buffer.NewRing(0),
		state:          stateConnected,
		opened:         true,
		pollAttachment: pa,
	}
	t.Cleanup(func() { _ = unix.Close(fds[0]) })
	return c, fds[1]
}

func TestShutdownWriteDiscardsQueuedBytesAndHalfClosesOutput(t *testing.T) {
	c, peerFD := newShutdownableConn(t)
	_, _ = c.sendBuf.Write([]byte("queued but never sent"))

	require.NoError(t, c.Shutdown(ShutdownWrite))
	require.True(t, c.sendBuf.IsEmpty())

	buf := make([]byte, 16)
	n, err := unix.Read(peerFD, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n, "peer should observe EOF once our write half is closed")
}

func TestShutdownReadLeavesSendBufIntact(t *testing.T) {
	c, _ := newShutdownableConn(t)
	_, _ = c.sendBuf.Write([]byte("still queued"))

	require.NoError(t, c.Shutdown(ShutdownRead))
	require.False(t, c.sendBuf.IsEmpty(), "Shutdown(Read) must not touch the outbound buffer")

	n, err := unix.Read(c.fd, make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, 0, n, "reading our own half-closed input side should report EOF")
}
