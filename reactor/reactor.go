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

package reactor

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tidalcore/tide/reactor/pkg/errors"
	"github.com/tidalcore/tide/reactor/pkg/future"
	"github.com/tidalcore/tide/reactor/pkg/threadpool"
)

// Action is an action that occurs after the completion of an event.
type Action int

const (
	// None indicates that no action should occur following an event.
	None Action = iota

	// Close closes the connection.
	Close

	// Shutdown shutdowns the engine.
	Shutdown
)

// ShutdownHow selects which half of a connection Conn.Shutdown closes.
type ShutdownHow int

const (
	// ShutdownRead half-closes the input side only.
	ShutdownRead ShutdownHow = iota

	// ShutdownWrite discards any queued outbound bytes, logs it, then
	// half-closes the output side. This is the documented, if surprising,
	// behavior: callers that want a final drain should Flush first.
	ShutdownWrite

	// ShutdownBoth does the same discard-then-close as ShutdownWrite and
	// also half-closes the input side.
	ShutdownBoth
)

// Engine represents an engine context which provides some functions.
type Engine struct {
	// eng is the internal engine struct.
	eng *engine
}

// CountConnections counts the number of currently active connections and returns it.
func (s Engine) CountConnections() (count int) {
	s.eng.lg.iterate(func(el *eventloop) {
		count += int(el.loadConnCount())
	})
	return
}

// Async submits f to the engine's worker pool and returns a Future for its
// result, for offloading blocking or CPU-bound work out of OnTraffic.
//
// Async is a free function, not an Engine method, because Go methods cannot
// carry their own type parameters.
func Async[T any](eng Engine, f func() (T, error)) future.Future[T] {
	submitted := time.Now()
	fut := threadpool.Execute(eng.eng.tp, f)
	fut.OnComplete(func(future.Try[T]) {
		GlobalStats.FutureCompletions.WithLabelValues().Observe(time.Since(submitted).Seconds())
	})
	return fut
}

// Reader is an interface that consists of a number of methods for reading that Conn must implement.
type Reader interface {
	// ================================== Non-concurrency-safe API's ==================================

	io.Reader
	io.WriterTo // must be non-blocking, otherwise it may block the event-loop.

	// Next returns a slice containing the next n bytes from the buffer,
	// advancing the buffer as if the bytes had been returned by Read.
	// If there are fewer than n bytes in the buffer, Next returns a nil slice and
	// io.ErrShortBuffer without advancing; n <= 0 returns every buffered byte.
	//
	// Note that the []byte buf returned by Next() is not allowed to be passed to a new goroutine,
	// as this []byte will be reused within event-loop.
	// If you have to use buf in a new goroutine, then you need to make a copy of buf and pass this copy
	// to that new goroutine.
	Next(n int) (buf []byte, err error)

	// Peek returns the next n bytes without advancing the reader. The bytes stop
	// being valid at the next read call. If fewer than n bytes are buffered, Peek
	// returns a nil slice and io.ErrShortBuffer; n <= 0 returns every buffered byte.
	Peek(n int) (buf []byte, err error)

	// Discard skips the next n bytes, returning the number of bytes discarded.
	Discard(n int) (discarded int, err error)

	// InboundBuffered returns the number of bytes that can be read from the current buffer.
	InboundBuffered() (n int)
}

// Writer is an interface that consists of a number of methods for writing that Conn must implement.
type Writer interface {
	// ================================== Non-concurrency-safe API's ==================================

	io.Writer
	io.ReaderFrom // must be non-blocking, otherwise it may block the event-loop.

	// Writev writes multiple byte slices to peer synchronously, you must call it in the current goroutine.
	Writev(bs [][]byte) (n int, err error)

	// Flush writes any buffered data to the underlying connection, you must call it in the current goroutine.
	Flush() (err error)

	// OutboundBuffered returns the number of bytes queued in the outbound buffer and not yet written to the peer.
	OutboundBuffered() (n int)

	// ==================================== Concurrency-safe API's ====================================

	// AsyncWrite writes one byte slice to peer asynchronously, usually you would call it in individual goroutines
	// instead of the event-loop goroutines.
	AsyncWrite(buf []byte, callback AsyncCallback) (err error)

	// AsyncWritev writes multiple byte slices to peer asynchronously, usually you would call it in individual goroutines
	// instead of the event-loop goroutines.
	AsyncWritev(bs [][]byte, callback AsyncCallback) (err error)
}

// AsyncCallback is a callback which will be invoked after the asynchronous functions has finished executing.
type AsyncCallback func(c Conn) error

// Socket is a set of functions which manipulate the underlying file descriptor of a connection.
type Socket interface {
	// Fd returns the underlying file descriptor.
	Fd() int

	// Dup returns a copy of the underlying file descriptor.
	// It is the caller's responsibility to close fd when finished.
	Dup() (int, error)

	// SetReadBuffer sets the size of the operating system's
	// receive buffer associated with the connection.
	SetReadBuffer(bytes int) error

	// SetWriteBuffer sets the size of the operating system's
	// transmit buffer associated with the connection.
	SetWriteBuffer(bytes int) error

	// IsOpened whether the connection is open
	IsOpened() bool

	// SetLinger sets the behavior of Close on a connection which still
	// has data waiting to be sent or to be acknowledged.
	SetLinger(sec int) error

	// SetKeepAlivePeriod tells operating system to send keep-alive messages on the connection
	// and sets period between TCP keep-alive probes.
	SetKeepAlivePeriod(d time.Duration) error
}

// Conn is an interface of underlying connection.
type Conn interface {
	Reader
	Writer
	Socket

	// ================================== Non-concurrency-safe API's ==================================

	// LocalAddr is the connection's local socket address.
	LocalAddr() (addr string)

	// RemoteAddr is the connection's remote peer address.
	RemoteAddr() (addr string)

	// SetDeadline implements net.Conn.
	SetDeadline(t time.Time) (err error)

	// SetReadDeadline implements net.Conn.
	SetReadDeadline(t time.Time) (err error)

	// SetWriteDeadline implements net.Conn.
	SetWriteDeadline(t time.Time) (err error)

	// Shutdown half-closes the connection per how. Shutdown(Write) and
	// Shutdown(Both) discard any bytes still queued in the outbound buffer
	// instead of draining them first; see ShutdownHow.
	Shutdown(how ShutdownHow) (err error)

	// ==================================== Concurrency-safe API's ====================================

	// CloseWithCallback closes the current connection, usually you don't need to pass a non-nil callback
	// because you should use OnClosed() instead, the callback here is only for compatibility.
	CloseWithCallback(callback AsyncCallback) (err error)

	// Close closes the current connection, implements net.Conn.
	Close() (err error)
}

type (
	// EventHandler represents the engine events' callbacks for the Run call.
	// Each event has an Action return value that is used manage the state
	// of the connection and engine.
	EventHandler interface {
		// OnBoot fires when the engine is ready for accepting connections.
		// The parameter engine has information and various utilities.
		OnBoot(eng Engine) (action Action)

		// OnShutdown fires when the engine is being shut down, it is called once the
		// shutdown signal arrives and before the engine stops its event-loops and
		// closes their remaining connections.
		OnShutdown(eng Engine)

		// OnOpened fires when a new connection has been opened.
		// The parameter out is the return value which is going to be sent back to the peer.
		OnOpened(c Conn) (out []byte, action Action)

		// OnClosed fires when a connection has been closed.
		// err is nil when the peer closed cleanly and on a local close (Close,
		// CloseWithCallback, the Close action, engine shutdown); it is non-nil when
		// a read or write fails or the poller reports an error or hang-up.
		OnClosed(c Conn, err error)

		// OnTraffic fires when a socket receives data from the peer.
		OnTraffic(c Conn) (action Action)

		// OnHighWater fires the first time a connection's outbound buffer crosses
		// the configured high-water mark after having been below it.
		OnHighWater(c Conn)
	}

	// BuiltinEventEngine is a built-in implementation of EventHandler which sets up each method with a default implementation,
	// you can compose it with your own implementation of EventHandler when you don't want to implement all methods
	// in EventHandler.
	BuiltinEventEngine struct{}
)

// OnBoot fires when the engine is ready for accepting connections.
func (es *BuiltinEventEngine) OnBoot(_ Engine) (_ Action) {
	return
}

// OnShutdown fires when the engine is being shut down, it is called once the
// shutdown signal arrives and before the engine stops its event-loops and
// closes their remaining connections.
func (es *BuiltinEventEngine) OnShutdown(_ Engine) {
}

// OnOpened fires when a new connection has been opened.
func (es *BuiltinEventEngine) OnOpened(_ Conn) (_ []byte, _ Action) {
	return
}

// OnClosed fires when a connection has been closed.
func (es *BuiltinEventEngine) OnClosed(_ Conn, _ error) {
}

// OnTraffic fires when a socket receives data from the peer.
func (es *BuiltinEventEngine) OnTraffic(_ Conn) (_ Action) {
	return
}

// OnHighWater fires when a connection's outbound buffer crosses the high-water mark.
func (es *BuiltinEventEngine) OnHighWater(_ Conn) {
}

// MaxStreamBufferCap is the default buffer size for each stream-oriented connection(TCP/Unix).
var MaxStreamBufferCap = 64 * 1024 // 64KB

// Run starts handling events on the specified address.
//
// Address should use a scheme prefix and be formatted
// like `tcp://192.168.0.10:9851`
// Valid network schemes:
//  tcp   - IPv4 (same as tcp4)
//  tcp4  - IPv4
//  tcp6  - IPv6
//
// The "tcp" network scheme is assumed when one is not specified.
func Run(eventHandler EventHandler, protoAddr string, opts ...Option) (err error) {
	options := loadOptions(opts...)
	if options.ReadBufferCap < 1 {
		options.ReadBufferCap = MaxStreamBufferCap
	}
	if options.WriteBufferCap < 1 {
		options.WriteBufferCap = MaxStreamBufferCap
	}

	network, addr := parseProtoAddr(protoAddr)

	var ln *listener
	if ln, err = initListener(network, addr, options); err != nil {
		return
	}
	defer ln.close()

	return serve(eventHandler, ln, options, protoAddr)
}

var (
	allEngines sync.Map

	// shutdownPollInterval is how often we poll to check whether engine has been shut down during Stop().
	shutdownPollInterval = 500 * time.Millisecond
)

// Stop gracefully shuts down the engine without interrupting any active event-loops,
// it waits indefinitely for connections and event-loops to be closed and then shuts down.
func Stop(ctx context.Context, protoAddr string) error {
	var eng *engine
	if s, ok := allEngines.Load(protoAddr); ok {
		eng = s.(*engine)
		eng.signalShutdown()
		defer allEngines.Delete(protoAddr)
	} else {
		return errors.ErrEngineInShutdown
	}

	if eng.isInShutdown() {
		return errors.ErrEngineInShutdown
	}

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		if eng.isInShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseProtoAddr(addr string) (network, address string) {
	network = "tcp"
	address = strings.ToLower(addr)
	if strings.Contains(address, "://") {
		pair := strings.Split(address, "://")
		network = pair[0]
		address = pair[1]
	}
	return
}
