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

// Package buffer holds the connection byte-buffer types: a contiguous,
// growable Ring for inbound bytes and an owned Vector chain for outbound
// bytes awaiting a writable socket.
package buffer

import (
	"io"

	"github.com/tidalcore/tide/reactor/internal/toolkit"
)

const minRingCap = 4 * 1024

// Ring is a contiguous, growable ring buffer used as a connection's recvBuf.
// It is not safe for concurrent use; callers must confine it to the owning
// event-loop goroutine.
type Ring struct {
	buf        []byte
	r, w       int
	isFull     bool
}

// NewRing allocates a Ring with at least the given capacity, rounded up to
// the nearest power of two so grow() can keep doubling cleanly.
func NewRing(cap int) *Ring {
	if cap < minRingCap {
		cap = minRingCap
	}
	return &Ring{buf: make([]byte, toolkit.NextPowerOfTwo(cap))}
}

// IsEmpty reports whether the ring currently holds no bytes.
func (b *Ring) IsEmpty() bool {
	return b.r == b.w && !b.isFull
}

// Buffered returns the number of bytes currently stored.
func (b *Ring) Buffered() int {
	if b.r == b.w {
		if b.isFull {
			return len(b.buf)
		}
		return 0
	}
	if b.w > b.r {
		return b.w - b.r
	}
	return len(b.buf) - b.r + b.w
}

func (b *Ring) free() int {
	return len(b.buf) - b.Buffered()
}

func (b *Ring) grow(need int) {
	avail := b.Buffered()
	newCap := toolkit.NextPowerOfTwo(avail + need)
	if newCap < len(b.buf)*2 {
		newCap = len(b.buf) * 2
	}
	nb := make([]byte, newCap)
	if avail > 0 {
		head, tail := b.Peek(avail)
		n := copy(nb, head)
		copy(nb[n:], tail)
	}
	b.buf = nb
	b.r = 0
	b.w = avail
	b.isFull = false
}

// Write appends p to the ring, growing the backing array if necessary.
func (b *Ring) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	if n > b.free() {
		b.grow(n)
	}
	m := copy(b.buf[b.w:], p)
	if m < n {
		copy(b.buf, p[m:])
	}
	b.w = (b.w + n) % len(b.buf)
	if n > 0 {
		b.isFull = b.w == b.r
	}
	return n, nil
}

// Peek returns up to n buffered bytes without consuming them, split across
// head (from the read cursor forward) and tail (the wrapped remainder).
// n < 0 returns everything buffered.
func (b *Ring) Peek(n int) (head, tail []byte) {
	buffered := b.Buffered()
	if n < 0 || n > buffered {
		n = buffered
	}
	if n == 0 {
		return nil, nil
	}
	if b.r < b.w {
		return b.buf[b.r : b.r+n], nil
	}
	firstLen := len(b.buf) - b.r
	if firstLen >= n {
		return b.buf[b.r : b.r+n], nil
	}
	return b.buf[b.r:], b.buf[:n-firstLen]
}

// Discard advances the read cursor past n buffered bytes.
func (b *Ring) Discard(n int) (int, error) {
	buffered := b.Buffered()
	if n <= 0 {
		return 0, nil
	}
	if n > buffered {
		n = buffered
	}
	b.r = (b.r + n) % len(b.buf)
	if n > 0 {
		b.isFull = false
	}
	return n, nil
}

// Read drains buffered bytes into p, consuming them.
func (b *Ring) Read(p []byte) (int, error) {
	if b.IsEmpty() {
		return 0, io.EOF
	}
	head, tail := b.Peek(len(p))
	n := copy(p, head)
	n += copy(p[n:], tail)
	_, _ = b.Discard(n)
	return n, nil
}

// WriteTo drains the entire ring into w.
func (b *Ring) WriteTo(w io.Writer) (int64, error) {
	head, tail := b.Peek(-1)
	var written int64
	if len(head) > 0 {
		n, err := w.Write(head)
		written += int64(n)
		if err != nil {
			_, _ = b.Discard(int(written))
			return written, err
		}
	}
	if len(tail) > 0 {
		n, err := w.Write(tail)
		written += int64(n)
		if err != nil {
			_, _ = b.Discard(int(written))
			return written, err
		}
	}
	_, _ = b.Discard(int(written))
	return written, nil
}

// Reset discards all buffered bytes without releasing the backing array.
func (b *Ring) Reset() {
	b.r, b.w, b.isFull = 0, 0, false
}

// Done releases the backing array; the Ring must not be used afterward
// without a fresh allocation.
func (b *Ring) Done() {
	b.buf = nil
	b.Reset()
}
