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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceVectorAppendAndLen(t *testing.T) {
	var s SliceVector
	require.True(t, s.Empty())

	s.Append([]byte("abc"))
	s.Append(nil)
	s.Append([]byte("de"))

	require.False(t, s.Empty())
	require.Equal(t, 5, s.Len())
	require.Equal(t, [][]byte{[]byte("abc"), []byte("de")}, s.Slices())
}

func TestSliceVectorReset(t *testing.T) {
	var s SliceVector
	s.Append([]byte("abc"))
	s.Reset()

	require.True(t, s.Empty())
	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Slices())
}
