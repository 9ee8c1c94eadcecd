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
	"sync/atomic"
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// destroyGrace is how long a closed connection's buffers are kept alive
// after closeConn runs, so that an AsyncWrite/AsyncWritev callback already
// posted to the poller's task queue from another goroutine never observes a
// recycled buffer.
const destroyGrace = 2 * time.Second

// destroyItem is one entry of destroyList, ordered first by deadline and
// then by seq so that entries scheduled at the same instant still drain in
// the order they were queued.
type destroyItem struct {
	deadline time.Time
	seq      uint64
	c        *conn
}

func (d *destroyItem) Less(than llrb.Item) bool {
	other := than.(*destroyItem)
	if d.deadline.Equal(other.deadline) {
		return d.seq < other.seq
	}
	return d.deadline.Before(other.deadline)
}

// destroyList is the deferred-destroy list: a sequence-ordered tree of
// connections awaiting final release, drained once per event-loop tick.
type destroyList struct {
	tree    *llrb.LLRB
	nextSeq uint64
}

func newDestroyList() *destroyList {
	return &destroyList{tree: llrb.New()}
}

// push queues c for release after destroyGrace has elapsed.
func (dl *destroyList) push(c *conn) {
	seq := atomic.AddUint64(&dl.nextSeq, 1)
	c.destroySeq = seq
	dl.tree.InsertNoReplace(&destroyItem{
		deadline: time.Now().Add(destroyGrace),
		seq:      seq,
		c:        c,
	})
}

// drain releases every entry whose deadline has passed, in queued order.
func (dl *destroyList) drain(now time.Time) {
	for {
		min := dl.tree.Min()
		if min == nil {
			return
		}
		item := min.(*destroyItem)
		if item.deadline.After(now) {
			return
		}
		dl.tree.DeleteMin()
		item.c.finalize()
	}
}
