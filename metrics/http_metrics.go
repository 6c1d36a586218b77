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

// Terminal websocket metrics for the web bridge; request metrics are
// recorded by the gin middleware

var (
	WebsocketActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hoptree_websocket_active_connections",
		Help: "Number of currently open terminal websocket connections",
	})

	WebsocketBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoptree_websocket_bytes_total",
		Help: "Total terminal bytes relayed over websockets",
	}, []string{"direction"})
)

// Direction constants for byte transfer metrics
const (
	DirectionIn  = "in"  // Bytes received from the browser
	DirectionOut = "out" // Bytes sent to the browser
)
