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

package reactor

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// connRow is the JSON shape /connections reports per open socket.
type connRow struct {
	Loop   int    `json:"loop"`
	Fd     int    `json:"fd"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// statsRow is the JSON shape /stats reports for the engine as a whole.
type statsRow struct {
	Connections    int `json:"connections"`
	ThreadPool     struct {
		Active int `json:"active"`
		Idle   int `json:"idle"`
		Queued int `json:"queued"`
	} `json:"thread_pool"`
}

// RegisterAdmin wires pprof, Prometheus, and a handful of engine-introspection
// routes onto ginSrv, mirroring the teacher's web.Init: one function the
// caller runs its own *gin.Engine and *http.Server through.
func RegisterAdmin(ginSrv *gin.Engine, eng Engine) {
	pprof.Register(ginSrv)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, handleStats(eng))
	})
	ginSrv.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, handleConnections(eng))
	})
}

func handleStats(eng Engine) statsRow {
	var row statsRow
	row.Connections = eng.CountConnections()
	active, idle, queued := eng.eng.tp.Stats()
	row.ThreadPool.Active = active
	row.ThreadPool.Idle = idle
	row.ThreadPool.Queued = queued
	return row
}

// handleConnections walks every sub event-loop's connection registry. Each
// el.connections is a hashmap.HashMap, safe to range over concurrently with
// the loop goroutine inserting/deleting entries.
func handleConnections(eng Engine) []connRow {
	var rows []connRow
	eng.eng.lg.iterate(func(el *eventloop) {
		for kv := range el.connections.Iter() {
			c := kv.Value.(*conn)
			rows = append(rows, connRow{
				Loop:   el.idx,
				Fd:     c.fd,
				Local:  c.LocalAddr(),
				Remote: c.RemoteAddr(),
			})
		}
	})
	return rows
}
