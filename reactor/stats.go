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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var GlobalStats ReactorStats

// ConnCloseType classifies why a connection was torn down, for metrics labelling.
type ConnCloseType int

const (
	// ConnEof is a clean, peer-initiated close.
	ConnEof ConnCloseType = iota
	// ConnErr is a read/write/accept error.
	ConnErr
	// ConnActive is a local, handler-initiated close.
	ConnActive
)

type ReactorStats struct {
	TotalConnections *prometheus.CounterVec
	CurrConnections  *prometheus.GaugeVec

	ConnectionsEof *prometheus.CounterVec
	ConnectionsErr *prometheus.CounterVec

	AcceptErrors *prometheus.CounterVec

	HighWaterCrossings *prometheus.CounterVec

	ThreadPoolActive *prometheus.GaugeVec
	ThreadPoolQueued *prometheus.GaugeVec

	FutureCompletions *prometheus.HistogramVec
}

func init() {
	GlobalStats = NewReactorStats("tide")
}

func NewReactorStats(namespace string) ReactorStats {
	stats := ReactorStats{
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total connections accepted or dialed since start",
		}, nil),
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "current open connections",
		}, []string{"loop"}),
		ConnectionsEof: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_eof",
			Help:      "connections closed by a clean peer eof",
		}, nil),
		ConnectionsErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_err",
			Help:      "connections closed due to a read/write error",
		}, nil),
		AcceptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors",
			Help:      "errors returned from accept(2)",
		}, []string{"errno"}),
		HighWaterCrossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_water_crossings",
			Help:      "number of times a connection's sendBuf crossed the high-water mark upward",
		}, nil),
		ThreadPoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threadpool_active_workers",
			Help:      "worker goroutines in the elastic pool currently running a task",
		}, nil),
		ThreadPoolQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threadpool_queued_tasks",
			Help:      "tasks waiting for a free worker",
		}, nil),
		FutureCompletions: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "future_completion_seconds",
			Help:      "time from task submission to future completion",
			Buckets:   prometheus.DefBuckets,
		}, nil),
	}
	prometheus.MustRegister(
		stats.TotalConnections, stats.CurrConnections, stats.ConnectionsEof, stats.ConnectionsErr,
		stats.AcceptErrors, stats.HighWaterCrossings, stats.ThreadPoolActive, stats.ThreadPoolQueued,
		stats.FutureCompletions,
	)
	return stats
}

// statsLoop publishes the engine-wide connection count and worker-pool occupancy
// once a second, the same way the teacher keeps this off the hot
// event-loop goroutine.
func statsLoop(eng *engine) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if eng.isInShutdown() {
			return
		}
		var total float64
		eng.lg.iterate(func(el *eventloop) {
			total += float64(el.loadConnCount())
		})
		GlobalStats.CurrConnections.WithLabelValues("total").Set(total)

		active, _, queued := eng.tp.Stats()
		GlobalStats.ThreadPoolActive.WithLabelValues().Set(float64(active))
		GlobalStats.ThreadPoolQueued.WithLabelValues().Set(float64(queued))
	}
}
