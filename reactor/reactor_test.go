// Copyright (c) 2022 The tide Authors
// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
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

package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProtoAddrDefaultsToTCP(t *testing.T) {
	network, addr := parseProtoAddr("192.168.0.10:9851")
	require.Equal(t, "tcp", network)
	require.Equal(t, "192.168.0.10:9851", addr)
}

func TestParseProtoAddrHonorsScheme(t *testing.T) {
	network, addr := parseProtoAddr("tcp6://[::1]:9851")
	require.Equal(t, "tcp6", network)
	require.Equal(t, "[::1]:9851", addr)
}

func TestParseProtoAddrLowercasesScheme(t *testing.T) {
	network, addr := parseProtoAddr("TCP4://127.0.0.1:9851")
	require.Equal(t, "tcp4", network)
	require.Equal(t, "127.0.0.1:9851", addr)
}
