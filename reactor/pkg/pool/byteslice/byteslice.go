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

// Package byteslice pools the small []byte allocations (net.Addr.IP) a
// connection churns through on every open/close.
package byteslice

import "sync"

var pool = sync.Pool{New: func() interface{} { b := make([]byte, 0, 64); return &b }}

// Get returns a pooled []byte with at least the requested length.
func Get(n int) []byte {
	bp := pool.Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		b = make([]byte, n)
	} else {
		b = b[:n]
	}
	return b
}

// Put returns b to the pool.
func Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	b = b[:0]
	pool.Put(&b)
}
