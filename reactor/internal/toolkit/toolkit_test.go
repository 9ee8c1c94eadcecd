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

package toolkit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{
		0:     1,
		1:     1,
		2:     2,
		3:     4,
		4:     4,
		5:     8,
		1023:  1024,
		1024:  1024,
		1025:  2048,
		65536: 65536,
	}
	for in, want := range cases {
		require.Equal(t, want, NextPowerOfTwo(in), "NextPowerOfTwo(%d)", in)
	}
}

func TestStringToBytesAndBack(t *testing.T) {
	s := "hello reactor"
	b := StringToBytes(s)
	require.Equal(t, []byte(s), b)
	require.Equal(t, s, BytesToString(b))
}
