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

// Package toolkit holds the small zero-allocation helpers the reactor core
// leans on in hot paths.
package toolkit

import (
	"reflect"
	"unsafe"
)

// StringToBytes casts a string to a byte slice without copying the backing
// array. The returned slice must never be mutated or retained past the
// lifetime of s.
func StringToBytes(s string) []byte {
	sh := (*reflect.StringHeader)(unsafe.Pointer(&s))
	bh := reflect.SliceHeader{Data: sh.Data, Len: sh.Len, Cap: sh.Len}
	return *(*[]byte)(unsafe.Pointer(&bh))
}

// BytesToString casts a byte slice to a string without copying. The caller
// must not mutate b after the cast.
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// NextPowerOfTwo rounds n up to the nearest power of two, which is how
// buffer.Ring sizes its backing array.
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
