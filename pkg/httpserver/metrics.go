// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vega",
		Name:      "commits_total",
		Help:      "Number of pushes accepted by this replica.",
	})
	watchersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vega",
		Name:      "watchers_live",
		Help:      "Long-poll watchers currently parked.",
	})
)

// currentServer backs the gauges that read live server state. Tests
// construct several servers in one process, so these are registered once
// and always observe the most recent one.
var (
	currentServer  atomic.Pointer[Server]
	collectorsOnce sync.Once
)

func registerCollectors(s *Server) {
	currentServer.Store(s)
	collectorsOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vega",
			Name:      "cache_hits",
			Help:      "Read cache hits since start.",
		}, func() float64 {
			if s := currentServer.Load(); s != nil && s.cache != nil {
				hits, _ := s.cache.Stats()
				return float64(hits)
			}
			return 0
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vega",
			Name:      "cache_misses",
			Help:      "Read cache misses since start.",
		}, func() float64 {
			if s := currentServer.Load(); s != nil && s.cache != nil {
				_, misses := s.cache.Stats()
				return float64(misses)
			}
			return 0
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vega",
			Name:      "replication_last_applied_index",
			Help:      "Last journal index applied by this replica, -1 when standalone.",
		}, func() float64 {
			if s := currentServer.Load(); s != nil && s.Progress != nil {
				return float64(s.Progress.LastApplied())
			}
			return -1
		})
	})
}
