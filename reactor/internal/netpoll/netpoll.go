// Copyright (c) 2021 Andy Pan
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

// Package netpoll wraps the platform registrar (epoll on Linux, kqueue on
// BSD/Darwin) behind a single Poller contract.
package netpoll

import (
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// InitPollEventsCap is the starting capacity of a Poller's event buffer.
	InitPollEventsCap = 128
	// MaxAsyncTasksAtOneTime bounds how many low-priority tasks a single
	// Polling iteration drains before returning to wait for I/O again.
	MaxAsyncTasksAtOneTime = 256
)

// PollEventHandler is invoked by a Poller when an fd becomes ready.
type PollEventHandler func(fd int, event IOEvent) error

// PollAttachment is the per-fd registration record handed to the poller.
// AddRead/AddWrite/ModRead/ModReadWrite/Delete key off FD; Callback is set
// on the listener's attachment, but Polling never invokes it: every ready fd,
// the listener's included, goes to the callback passed to Polling.
type PollAttachment struct {
	FD       int
	Callback PollEventHandler
}

var pollAttachmentPool = sync.Pool{New: func() interface{} { return new(PollAttachment) }}

// GetPollAttachment returns a pooled, zeroed PollAttachment.
func GetPollAttachment() *PollAttachment {
	return pollAttachmentPool.Get().(*PollAttachment)
}

// PutPollAttachment returns pa to the pool after clearing its fields.
func PutPollAttachment(pa *PollAttachment) {
	pa.FD, pa.Callback = 0, nil
	pollAttachmentPool.Put(pa)
}

// Dup returns a copy of fd and a label describing the call for error
// wrapping, matching net.TCPConn.File()'s (fd, name, error) shape.
func Dup(fd int) (int, string, error) {
	dupfd, err := unix.Dup(fd)
	return dupfd, "dup", err
}
