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

package web_ui

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"github.com/hoptree/hoptree/metrics"
)

var (
	prometheusMonitor     *ginprometheus.Prometheus
	prometheusMonitorOnce sync.Once
)

// getPrometheusMonitor builds the request metrics once per process; every
// engine shares the one set of collectors.
func getPrometheusMonitor() *ginprometheus.Prometheus {
	prometheusMonitorOnce.Do(func() {
		prometheusMonitor = ginprometheus.NewPrometheus("hoptree")
		// Label by route template so ids in the path don't fan out
		prometheusMonitor.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if route := c.FullPath(); route != "" {
				return route
			}
			return "unmatched"
		}
	})
	return prometheusMonitor
}

// ConfigureMetrics records request metrics, exposes them at /metrics and
// serves the component health at /api/v1.0/health.
func ConfigureMetrics(engine *gin.Engine) {
	getPrometheusMonitor().Use(engine)

	engine.GET("/api/v1.0/health", func(ctx *gin.Context) {
		healthStatus := metrics.GetHealthStatus()
		ctx.JSON(http.StatusOK, healthStatus)
	})
}
