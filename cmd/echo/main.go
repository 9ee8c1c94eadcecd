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

package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"syscall"

	"github.com/tidalcore/tide/reactor"
	"github.com/tidalcore/tide/reactor/pkg/config"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

var (
	configPath = flag.String("p", "conf", "Config file path")
	configFile = flag.String("c", "tide.yaml", "Tunables config filename")
	listenAddr = flag.String("l", ":9851", "Address to listen on")
	adminAddr  = flag.String("admin", "", "Address for the debug/admin HTTP surface, empty disables it")
	version    = flag.Bool("v", false, "Show version")
	help       = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
  _______     _
 |__   __|   | |
    | | _  __| | ___
    | || |/ _| |/ _ \
    | || | (_| |  __/
    |_||_|\__,_|\___|

`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	if err := logging.InitializeLogger(); err != nil {
		fmt.Printf("failed to initialize logger, err: %s\n", err)
		return
	}

	fmt.Print(banner)
	fmt.Printf("tide echo server version: %s\n", Tag)
	fmt.Printf("tide started with addr: %s, pid: %d\n", *listenAddr, syscall.Getpid())
	logging.Infof("tide started with addr: %s, pid: %d, version: %s", *listenAddr, syscall.Getpid(), Tag)

	confPath := path.Join(*configPath, *configFile)
	tunables, err := config.Load(confPath)
	if err != nil {
		logging.Warnf("no tunables config at %s, running with defaults: %v", confPath, err)
	}
	opts := tunables.Options()

	watcher, err := config.Watch(confPath)
	if err != nil {
		logging.Warnf("not watching %s for changes: %v", confPath, err)
	} else {
		go func() {
			for t := range watcher.Changes {
				logging.Infof("tunables reloaded from %s; restart to pick up %d option(s)", confPath, len(t.Options()))
			}
		}()
	}

	h := &echoHandler{adminAddr: *adminAddr}

	if err := reactor.Run(h, fmt.Sprintf("tcp://%s", *listenAddr), opts...); err != nil {
		logging.Errorf("reactor engine stopped with error: %v", err)
	}
}
