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

package buffer

import (
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/tidalcore/tide/reactor/internal/toolkit"
)

// member is one owned chunk of a Vector's backing chain.
type member struct {
	buf  *bytebufferpool.ByteBuffer
	off  int // bytes of buf.B already sent
	next *member
}

func (m *member) remaining() int {
	return len(m.buf.B) - m.off
}

// Vector is an ordered chain of owned buffers used as a connection's
// sendBuf. Members are appended on Write/Writev and spliced off the front
// as writev(2) reports bytes sent, mirroring ConsumeBufferVectors /
// CollectBuffer from the connection the Go port is grounded on: walk the
// chain, drop fully-sent members, splice the first partially-sent member's
// tail in place rather than just subtracting a byte count.
type Vector struct {
	head, tail *member
	totalBytes int
}

// NewVector returns an empty send-buffer chain. The capacity argument is
// accepted and not used; chunks come from the pool at whatever size they are.
func NewVector(_ int) *Vector {
	return &Vector{}
}

// IsEmpty reports whether the chain holds no unsent bytes.
func (v *Vector) IsEmpty() bool {
	return v.totalBytes == 0
}

// Buffered returns the total unsent byte count across all members.
func (v *Vector) Buffered() int {
	return v.totalBytes
}

func (v *Vector) append(p []byte) {
	if len(p) == 0 {
		return
	}
	bb := bytebufferpool.Get()
	_, _ = bb.Write(p)
	m := &member{buf: bb}
	if v.tail == nil {
		v.head, v.tail = m, m
	} else {
		v.tail.next = m
		v.tail = m
	}
	v.totalBytes += len(p)
}

// Write appends a single slice to the tail of the chain.
func (v *Vector) Write(p []byte) (int, error) {
	v.append(p)
	return len(p), nil
}

// WriteString appends s to the tail of the chain without an intermediate
// []byte(s) copy; the bytes are copied once into the pooled chunk below,
// same as Write, but the caller's string never needs its own conversion.
func (v *Vector) WriteString(s string) (int, error) {
	v.append(toolkit.StringToBytes(s))
	return len(s), nil
}

// Writev appends each slice, in order, to the tail of the chain.
func (v *Vector) Writev(bs [][]byte) (int, error) {
	var n int
	for _, b := range bs {
		v.append(b)
		n += len(b)
	}
	return n, nil
}

// ReadFrom drains r into the chain until EOF or error, used when a caller
// hands the connection an io.Reader directly (Conn.ReadFrom).
func (v *Vector) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			v.append(buf[:n])
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

// Peek returns the chain's unsent members as a gather list suitable for
// writev(2), capped to at most n members when n > 0. n < 0 returns every
// member.
func (v *Vector) Peek(n int) [][]byte {
	if v.head == nil {
		return nil
	}
	var out [][]byte
	for m := v.head; m != nil; m = m.next {
		out = append(out, m.buf.B[m.off:])
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// Discard marks n bytes as sent, walking the chain and splicing the first
// partially-sent member in place rather than merely decrementing a count.
func (v *Vector) Discard(n int) (int, error) {
	discarded := 0
	for n > 0 && v.head != nil {
		rem := v.head.remaining()
		if n < rem {
			v.head.off += n
			discarded += n
			v.totalBytes -= n
			n = 0
			break
		}
		n -= rem
		discarded += rem
		v.totalBytes -= rem
		spent := v.head
		v.head = v.head.next
		bytebufferpool.Put(spent.buf)
	}
	if v.head == nil {
		v.tail = nil
		v.totalBytes = 0
	}
	return discarded, nil
}

// Release returns every pooled member back to bytebufferpool and empties
// the chain. Call when the owning connection is torn down.
func (v *Vector) Release() {
	for m := v.head; m != nil; {
		next := m.next
		bytebufferpool.Put(m.buf)
		m = next
	}
	v.head, v.tail, v.totalBytes = nil, nil, 0
}
