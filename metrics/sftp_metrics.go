/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SFTP pool metrics. A hit is a request served by a live pooled connection,
// a miss is one that had to connect.

var (
	SftpPoolHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoptree_sftp_pool_hits_total",
		Help: "The total number of SFTP pool lookups served by a live pooled connection",
	})

	SftpPoolMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoptree_sftp_pool_misses_total",
		Help: "The total number of SFTP pool lookups that had to open a new connection",
	})

	SftpPoolEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_sftp_pool_evictions_total",
		Help: "The total number of pooled SFTP connections evicted, by reason",
	}, []string{"reason"}) // reason: stale, error, cleared, expired, shutdown

	SftpPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hoptree_sftp_pool_connections",
		Help: "Number of SFTP connections currently pooled",
	})

	SftpOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_sftp_operations_total",
		Help: "The total number of operations run against pooled SFTP connections, by result",
	}, []string{"result"})

	SftpOperationTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hoptree_sftp_operation_time_seconds",
		Help:    "Time taken by operations run against pooled SFTP connections, lock wait included",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	})

	SftpSlowOperationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoptree_sftp_slow_operations_total",
		Help: "Total number of slow SFTP operations (>2s)",
	})
)

const (
	EvictionStale    = "stale"
	EvictionError    = "error"
	EvictionCleared  = "cleared"
	EvictionExpired  = "expired"
	EvictionShutdown = "shutdown"

	// SlowOperationThreshold is the duration above which an SFTP operation counts as slow
	SlowOperationThreshold = 2 * time.Second
)

// SftpOperationTracker times one operation against a pooled connection
type SftpOperationTracker struct {
	startTime time.Time
}

// NewSftpOperationTracker starts timing an operation
func NewSftpOperationTracker() *SftpOperationTracker {
	return &SftpOperationTracker{startTime: time.Now()}
}

// Complete records the outcome and duration of the operation
func (t *SftpOperationTracker) Complete(err error) time.Duration {
	elapsed := time.Since(t.startTime)
	SftpOperationTime.Observe(elapsed.Seconds())
	if err != nil {
		SftpOperationsTotal.WithLabelValues(ResultFailure).Inc()
	} else {
		SftpOperationsTotal.WithLabelValues(ResultSuccess).Inc()
	}
	if elapsed > SlowOperationThreshold {
		SftpSlowOperationsTotal.Inc()
	}
	return elapsed
}
