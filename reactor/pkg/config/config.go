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

// Package config loads the reactor's tunable Options from a YAML file and,
// on request, watches it for edits the way authip.LoopIPWhiteList watches
// its white-list file: a change lands on a channel instead of being
// reapplied behind the caller's back.
package config

import (
	"os"
	"path"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tidalcore/tide/reactor"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// Tunables mirrors the subset of reactor.Options a deployment sets from a
// YAML file; a running engine reads them once at Run, so an edit takes effect
// on the next restart. Fields absent from the YAML file keep their
// reactor.loadOptions default.
type Tunables struct {
	ReadBufferCap    int    `yaml:"read_buffer_cap"`
	WriteBufferCap   int    `yaml:"write_buffer_cap"`
	MinPacketSize    int    `yaml:"min_packet_size"`
	SendBufHighWater int    `yaml:"send_buf_high_water"`
	ListenBacklog    int    `yaml:"listen_backlog"`
	IOVMax           int    `yaml:"iov_max"`
	NumEventLoop     int    `yaml:"num_event_loop"`
	ThreadPool       struct {
		MaxThreads      int `yaml:"max_threads"`
		MaxIdleThreads  int `yaml:"max_idle_threads"`
		MonitorInterval int `yaml:"monitor_interval_seconds"`
	} `yaml:"thread_pool"`
}

// Load reads and parses a Tunables file.
func Load(confPath string) (Tunables, error) {
	var t Tunables
	file, err := os.ReadFile(confPath)
	if err != nil {
		return t, errors.Wrapf(err, "failed to read file from %s", confPath)
	}
	if err := yaml.Unmarshal(file, &t); err != nil {
		return t, errors.Wrapf(err, "failed to unmarshal config from %s", confPath)
	}
	return t, nil
}

// Options turns a Tunables value into the Option list reactor.Run expects,
// omitting any field left at its YAML zero value so reactor.loadOptions'
// defaults still apply.
func (t Tunables) Options() []reactor.Option {
	var opts []reactor.Option
	if t.ReadBufferCap > 0 {
		opts = append(opts, reactor.WithReadBufferCap(t.ReadBufferCap))
	}
	if t.WriteBufferCap > 0 {
		opts = append(opts, reactor.WithWriteBufferCap(t.WriteBufferCap))
	}
	if t.MinPacketSize > 0 {
		opts = append(opts, reactor.WithMinPacketSize(t.MinPacketSize))
	}
	if t.SendBufHighWater > 0 {
		opts = append(opts, reactor.WithSendBufHighWater(t.SendBufHighWater))
	}
	if t.ListenBacklog > 0 {
		opts = append(opts, reactor.WithListenBacklog(t.ListenBacklog))
	}
	if t.IOVMax > 0 {
		opts = append(opts, reactor.WithIOVMax(t.IOVMax))
	}
	if t.NumEventLoop > 0 {
		opts = append(opts, reactor.WithNumEventLoop(t.NumEventLoop))
	}
	if t.ThreadPool.MaxThreads > 0 {
		opts = append(opts, reactor.WithMaxThreads(t.ThreadPool.MaxThreads))
	}
	if t.ThreadPool.MaxIdleThreads > 0 {
		opts = append(opts, reactor.WithMaxIdleThreads(t.ThreadPool.MaxIdleThreads))
	}
	if t.ThreadPool.MonitorInterval > 0 {
		opts = append(opts, reactor.WithMonitorInterval(secondsToDuration(t.ThreadPool.MonitorInterval)))
	}
	return opts
}

// Watcher hot-reloads a Tunables file, publishing the newest successfully
// parsed version on Changes; an older value still unread is replaced by the
// newer one. Parse errors are logged and otherwise
// swallowed: a bad edit should not crash a running server.
type Watcher struct {
	path    string
	Changes chan Tunables
}

// Watch starts watching confPath for writes/renames, grounded on
// authip.AuthIp.watchYml's fsnotify usage.
func Watch(confPath string) (*Watcher, error) {
	watch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := path.Dir(confPath)
	if err := watch.Add(dir); err != nil {
		return nil, err
	}

	w := &Watcher{path: confPath, Changes: make(chan Tunables, 1)}
	go func() {
		for {
			select {
			case ev, ok := <-watch.Events:
				if !ok {
					return
				}
				if ev.Name != confPath {
					continue
				}
				if ev.Op&fsnotify.Write == fsnotify.Write || ev.Op&fsnotify.Rename == fsnotify.Rename {
					t, err := Load(confPath)
					if err != nil {
						logging.Errorf("config: reload failed: %v", err)
						continue
					}
					select {
					case w.Changes <- t:
					default:
						// drop the stale pending value, newest wins
						<-w.Changes
						w.Changes <- t
					}
				}
			case err, ok := <-watch.Errors:
				if !ok {
					return
				}
				logging.Errorf("config: watcher error: %v", err)
			}
		}
	}()
	return w, nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
