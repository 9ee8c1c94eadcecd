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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
read_buffer_cap: 131072
write_buffer_cap: 65536
min_packet_size: 128
send_buf_high_water: 1048576
listen_backlog: 512
iov_max: 32
num_event_loop: 4
thread_pool:
  max_threads: 32
  max_idle_threads: 4
  monitor_interval_seconds: 10
`

func TestLoadParsesAllFields(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "tide.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(sampleYAML), 0o644))

	tun, err := Load(confPath)
	require.NoError(t, err)
	require.Equal(t, 131072, tun.ReadBufferCap)
	require.Equal(t, 65536, tun.WriteBufferCap)
	require.Equal(t, 128, tun.MinPacketSize)
	require.Equal(t, 1048576, tun.SendBufHighWater)
	require.Equal(t, 512, tun.ListenBacklog)
	require.Equal(t, 32, tun.IOVMax)
	require.Equal(t, 4, tun.NumEventLoop)
	require.Equal(t, 32, tun.ThreadPool.MaxThreads)
	require.Equal(t, 4, tun.ThreadPool.MaxIdleThreads)
	require.Equal(t, 10, tun.ThreadPool.MonitorInterval)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestOptionsOmitsZeroFields(t *testing.T) {
	var tun Tunables
	tun.NumEventLoop = 3

	opts := tun.Options()
	require.Len(t, opts, 1)
}

func TestWatchPublishesReloadedTunables(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "tide.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(sampleYAML), 0o644))

	w, err := Watch(confPath)
	require.NoError(t, err)

	updated := sampleYAML + "\n# bump\n"
	require.NoError(t, os.WriteFile(confPath, []byte(updated), 0o644))

	select {
	case tun := <-w.Changes:
		require.Equal(t, 131072, tun.ReadBufferCap)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
