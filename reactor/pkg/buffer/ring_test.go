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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingWriteReadRoundTrip(t *testing.T) {
	r := NewRing(8)
	require.True(t, r.IsEmpty())

	n, err := r.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.False(t, r.IsEmpty())
	require.Equal(t, 5, r.Buffered())

	out := make([]byte, 5)
	n, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
	require.True(t, r.IsEmpty())
}

func TestRingWrapsAroundBoundary(t *testing.T) {
	r := NewRing(minRingCap)
	capacity := minRingCap

	// Push the write cursor close to the end of the backing array, then
	// discard it all so the next write wraps from the tail back to the head.
	filler := bytes.Repeat([]byte("x"), capacity-4)
	_, err := r.Write(filler)
	require.NoError(t, err)
	_, err = r.Discard(capacity - 4)
	require.NoError(t, err)
	require.True(t, r.IsEmpty())

	_, err = r.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, 10, r.Buffered())

	head, tail := r.Peek(-1)
	require.Equal(t, "0123456789", string(head)+string(tail))
}

func TestRingGrowsPastCapacity(t *testing.T) {
	r := NewRing(8)
	big := bytes.Repeat([]byte("a"), minRingCap*3)

	n, err := r.Write(big)
	require.NoError(t, err)
	require.Equal(t, len(big), n)
	require.Equal(t, len(big), r.Buffered())

	head, tail := r.Peek(-1)
	require.Equal(t, len(big), len(head)+len(tail))
}

func TestRingDiscardClampsToBuffered(t *testing.T) {
	r := NewRing(8)
	_, _ = r.Write([]byte("ab"))

	n, err := r.Discard(100)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, r.IsEmpty())
}

func TestRingWriteToDrainsEverything(t *testing.T) {
	r := NewRing(8)
	_, _ = r.Write([]byte("abcdef"))

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 6, n)
	require.Equal(t, "abcdef", buf.String())
	require.True(t, r.IsEmpty())
}

func TestRingResetAndDone(t *testing.T) {
	r := NewRing(8)
	_, _ = r.Write([]byte("abc"))
	r.Reset()
	require.True(t, r.IsEmpty())

	_, _ = r.Write([]byte("def"))
	r.Done()
	require.True(t, r.IsEmpty())
}
