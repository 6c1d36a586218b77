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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	SessionKindLocal  = "local"
	SessionKindRemote = "remote"
)

var (
	// Jump chain construction
	ChainBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_chain_builds_total",
		Help: "The total number of SSH connection chains built, by result",
	}, []string{"result"})

	ChainBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hoptree_chain_build_duration_seconds",
		Help:    "Time taken to build a successful SSH connection chain, all hops included",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	// Interactive sessions
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hoptree_sessions_active",
		Help: "Number of currently registered interactive sessions",
	}, []string{"kind"})

	SessionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_sessions_opened_total",
		Help: "The total number of interactive sessions opened",
	}, []string{"kind"})

	SessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_sessions_failed_total",
		Help: "The total number of interactive sessions that failed to open",
	}, []string{"kind"})

	SessionBytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_session_bytes_received_total",
		Help: "Total bytes read from interactive sessions",
	}, []string{"kind"})

	SessionBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_session_bytes_sent_total",
		Help: "Total bytes written to interactive sessions",
	}, []string{"kind"})
)
