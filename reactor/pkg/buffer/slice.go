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

// SliceVector is a borrowed (ptr,len) gather list: it holds references into
// slices owned elsewhere (typically caller-provided []byte args queued
// during a single read-dispatch) without copying, so several OnTraffic-driven
// writes in one event-loop pass can be coalesced into a single writev(2).
// It must not outlive the backing slices; Reset before the event-loop
// returns to the poller.
type SliceVector struct {
	slices [][]byte
	n      int
}

// Append borrows b into the gather list.
func (s *SliceVector) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	s.slices = append(s.slices, b)
	s.n += len(b)
}

// Slices returns the current gather list.
func (s *SliceVector) Slices() [][]byte {
	return s.slices
}

// Len returns the total byte count across all borrowed slices.
func (s *SliceVector) Len() int {
	return s.n
}

// Empty reports whether nothing has been appended since the last Reset.
func (s *SliceVector) Empty() bool {
	return s.n == 0
}

// Reset drops all borrowed references, ready for the next batch.
func (s *SliceVector) Reset() {
	s.slices = s.slices[:0]
	s.n = 0
}
