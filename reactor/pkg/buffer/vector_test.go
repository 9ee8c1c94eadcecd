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

func TestVectorWriteAndPeek(t *testing.T) {
	v := NewVector(0)
	require.True(t, v.IsEmpty())

	_, _ = v.Write([]byte("foo"))
	_, _ = v.Write([]byte("bar"))
	require.False(t, v.IsEmpty())
	require.Equal(t, 6, v.Buffered())

	var joined bytes.Buffer
	for _, s := range v.Peek(-1) {
		joined.Write(s)
	}
	require.Equal(t, "foobar", joined.String())
}

func TestVectorDiscardPartialMember(t *testing.T) {
	v := NewVector(0)
	_, _ = v.Write([]byte("0123456789"))
	_, _ = v.Write([]byte("abcde"))

	n, err := v.Discard(7)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, 8, v.Buffered())

	var joined bytes.Buffer
	for _, s := range v.Peek(-1) {
		joined.Write(s)
	}
	require.Equal(t, "789abcde", joined.String())
}

func TestVectorDiscardSpansMultipleMembers(t *testing.T) {
	v := NewVector(0)
	_, _ = v.Write([]byte("aaa"))
	_, _ = v.Write([]byte("bbb"))
	_, _ = v.Write([]byte("ccc"))

	n, err := v.Discard(100)
	require.NoError(t, err)
	require.Equal(t, 9, n)
	require.True(t, v.IsEmpty())
	require.Nil(t, v.Peek(-1))
}

func TestVectorWritev(t *testing.T) {
	v := NewVector(0)
	n, err := v.Writev([][]byte{[]byte("a"), []byte("bb"), []byte("ccc")})
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, 6, v.Buffered())
}

func TestVectorPeekCapsMemberCount(t *testing.T) {
	v := NewVector(0)
	_, _ = v.Write([]byte("a"))
	_, _ = v.Write([]byte("b"))
	_, _ = v.Write([]byte("c"))

	out := v.Peek(2)
	require.Len(t, out, 2)
}

func TestVectorReleaseEmptiesChain(t *testing.T) {
	v := NewVector(0)
	_, _ = v.Write([]byte("leftover"))
	v.Release()
	require.True(t, v.IsEmpty())
	require.Nil(t, v.Peek(-1))
}
