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

// Package io wraps the scatter/gather syscalls the connection send/recv
// paths use.
package io

import (
	"golang.org/x/sys/unix"
)

// maxIOVec mirrors the conservative IOV_MAX floor (Linux/BSD both guarantee
// at least 1024, but eventloop.go's sendBuf flushes cap the coalesced batch
// well below that — see Options.IOVMax); this is just the syscall-layer
// safety net.
const maxIOVec = 1024

// Writev writes bs to fd via writev(2), returning the total bytes actually
// written (which may be less than the sum of len(bs) on a partial write).
func Writev(fd int, bs [][]byte) (int, error) {
	if len(bs) == 0 {
		return 0, nil
	}
	if len(bs) > maxIOVec {
		bs = bs[:maxIOVec]
	}
	if len(bs) == 1 {
		return unix.Write(fd, bs[0])
	}
	return unix.Writev(fd, bs)
}

// Readv reads from fd into bs via readv(2), returning the total bytes read.
func Readv(fd int, bs [][]byte) (int, error) {
	if len(bs) == 0 {
		return 0, nil
	}
	if len(bs) > maxIOVec {
		bs = bs[:maxIOVec]
	}
	if len(bs) == 1 {
		return unix.Read(fd, bs[0])
	}
	return unix.Readv(fd, bs)
}
