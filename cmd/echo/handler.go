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
	"bytes"
	"net/http"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/tidalcore/tide/reactor"
	"github.com/tidalcore/tide/reactor/pkg/future"
	"github.com/tidalcore/tide/reactor/pkg/logging"
)

// echoHandler upper-cases every line it receives and sends it back. The
// upper-casing runs on the engine's worker pool instead of inline in
// OnTraffic, so a slow transform never stalls the event-loop goroutine it
// arrived on.
type echoHandler struct {
	reactor.BuiltinEventEngine
	eng       reactor.Engine
	adminAddr string
}

func (h *echoHandler) OnBoot(eng reactor.Engine) reactor.Action {
	h.eng = eng
	logging.Infof("echo server ready, pid=%d", syscall.Getpid())

	if h.adminAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		reactor.RegisterAdmin(ginSrv, h.eng)
		httpSrv := &http.Server{Handler: ginSrv, Addr: h.adminAddr}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("failed to start admin server, err: %s", err)
			}
		}()
	}

	return reactor.None
}

func (h *echoHandler) OnOpened(c reactor.Conn) ([]byte, reactor.Action) {
	logging.Debugf("conn opened: %s", c.RemoteAddr())
	return nil, reactor.None
}

func (h *echoHandler) OnClosed(c reactor.Conn, err error) {
	logging.Debugf("conn closed: %s, err=%v", c.RemoteAddr(), err)
}

func (h *echoHandler) OnTraffic(c reactor.Conn) reactor.Action {
	buf, err := c.Next(-1)
	if err != nil {
		logging.Errorf("echo: Next failed: %v", err)
		return reactor.Close
	}
	line := append([]byte(nil), buf...)

	fut := reactor.Async(h.eng, func() ([]byte, error) {
		return bytes.ToUpper(line), nil
	})
	fut.OnComplete(func(t future.Try[[]byte]) {
		if t.Err != nil {
			logging.Errorf("echo: upper-case task failed: %v", t.Err)
			return
		}
		if err := c.AsyncWrite(t.Value, nil); err != nil {
			logging.Errorf("echo: AsyncWrite failed: %v", err)
		}
	})

	return reactor.None
}

func (h *echoHandler) OnHighWater(c reactor.Conn) {
	logging.Warnf("echo: conn %s crossed the send high-water mark", c.RemoteAddr())
}
