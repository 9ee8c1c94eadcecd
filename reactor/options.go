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

package reactor

import (
	"time"
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	if opts.ReadBufferCap < 1 {
		opts.ReadBufferCap = 64 * 1024
	}
	if opts.WriteBufferCap < 1 {
		opts.WriteBufferCap = 64 * 1024
	}
	if opts.MinPacketSize < 1 {
		opts.MinPacketSize = 1
	}
	if opts.SendBufHighWater < 1 {
		opts.SendBufHighWater = 1 << 20 // 1MB
	}
	if opts.ListenBacklog < 1 {
		opts.ListenBacklog = 1024
	}
	if opts.IOVMax < 1 {
		opts.IOVMax = 64
	}
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 16
	}
	if opts.MonitorInterval < 1 {
		opts.MonitorInterval = 5 * time.Second
	}
	if opts.NumEventLoop < 1 {
		opts.NumEventLoop = 1
	}
	return opts
}

// TCPSocketOpt is the type of TCP socket options.
type TCPSocketOpt int

// Options are configurations for the reactor engine.
type Options struct {
	// ReadBufferCap is the maximum number of bytes that can be read from the peer when the readable event comes.
	// The default value is 64KB, it can either be reduced to avoid starving the subsequent connections or increased
	// to read more data from a socket.
	//
	// Note that the per-loop read buffer is allocated with exactly ReadBufferCap bytes; only a connection's
	// inbound ring buffer rounds its initial size up to a power of two.
	ReadBufferCap int

	// WriteBufferCap is passed to each connection's outbound buffer constructor, which does not use it:
	// the outbound buffer is an unbounded chain of pooled chunks with no static part.
	// The default value is 64KB.
	WriteBufferCap int

	// TCPKeepAlive sets up a duration for (SO_KEEPALIVE) socket option.
	TCPKeepAlive time.Duration

	// SocketRecvBuffer sets the maximum socket receive buffer in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the maximum socket send buffer in bytes.
	SocketSendBuffer int

	// MinPacketSize is the fewest inbound bytes eventloop.read holds before it
	// invokes the OnTraffic handler; fewer bytes are buffered until more arrive.
	// The default value is 1.
	MinPacketSize int

	// SendBufHighWater is the sendBuf byte threshold at or above which OnHighWater
	// fires once, until the buffer drains back below it.
	SendBufHighWater int

	// ListenBacklog is the backlog argument passed to listen(2).
	ListenBacklog int

	// IOVMax caps how many sendBuf members the event loop coalesces into a
	// single writev syscall when it flushes the outbound buffer.
	IOVMax int

	// MaxThreads bounds the elastic worker pool backing blocking/CPU-bound
	// callback work dispatched off the event-loop goroutines.
	MaxThreads int

	// MaxIdleThreads is the floor the worker-pool monitor will not shrink
	// below, even when all workers are idle.
	MaxIdleThreads int

	// MonitorInterval is how often the worker-pool monitor wakes to prune
	// idle-but-unneeded workers.
	MonitorInterval time.Duration

	// NumEventLoop is how many sub event-loops the engine spawns to host
	// accepted connections; the listener's accept loop round-robins new
	// connections across them. The default is 1.
	NumEventLoop int
}

// WithReadBufferCap sets the per-read syscall buffer capacity in bytes.
func WithReadBufferCap(n int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = n
	}
}

// WithWriteBufferCap sets Options.WriteBufferCap, in bytes.
func WithWriteBufferCap(n int) Option {
	return func(opts *Options) {
		opts.WriteBufferCap = n
	}
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(tcpKeepAlive time.Duration) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithSocketRecvBuffer sets the maximum socket receive buffer in bytes.
func WithSocketRecvBuffer(recvBuf int) Option {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer sets the maximum socket send buffer in bytes.
func WithSocketSendBuffer(sendBuf int) Option {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithMinPacketSize sets up the fewest buffered bytes that trigger OnTraffic.
func WithMinPacketSize(n int) Option {
	return func(opts *Options) {
		opts.MinPacketSize = n
	}
}

// WithSendBufHighWater sets up the sendBuf high-water mark, in bytes.
func WithSendBufHighWater(n int) Option {
	return func(opts *Options) {
		opts.SendBufHighWater = n
	}
}

// WithListenBacklog sets up the listen(2) backlog.
func WithListenBacklog(n int) Option {
	return func(opts *Options) {
		opts.ListenBacklog = n
	}
}

// WithIOVMax caps the number of iovecs the event loop coalesces per writev call.
func WithIOVMax(n int) Option {
	return func(opts *Options) {
		opts.IOVMax = n
	}
}

// WithMaxThreads bounds the elastic worker pool's thread ceiling.
func WithMaxThreads(n int) Option {
	return func(opts *Options) {
		opts.MaxThreads = n
	}
}

// WithMaxIdleThreads sets the worker-pool monitor's idle floor.
func WithMaxIdleThreads(n int) Option {
	return func(opts *Options) {
		opts.MaxIdleThreads = n
	}
}

// WithMonitorInterval sets how often the worker-pool monitor wakes.
func WithMonitorInterval(d time.Duration) Option {
	return func(opts *Options) {
		opts.MonitorInterval = d
	}
}

// WithNumEventLoop sets how many sub event-loops host accepted connections.
func WithNumEventLoop(n int) Option {
	return func(opts *Options) {
		opts.NumEventLoop = n
	}
}
