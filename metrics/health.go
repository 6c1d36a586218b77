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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	HealthStatusEnum int

	HealthStatusComponent string

	// ComponentStatus is one component's entry in the health response
	ComponentStatus struct {
		Status     string `json:"status"`
		Message    string `json:"message,omitempty"`
		LastUpdate int64  `json:"last_update"`
	}

	// HealthStatus is the body of /api/v1.0/health. The overall status is
	// the worst of the component statuses, or "unknown" with none reported.
	HealthStatus struct {
		OverallStatus   string                     `json:"status"`
		ComponentStatus map[string]ComponentStatus `json:"components"`
	}

	componentHealth struct {
		status  HealthStatusEnum
		message string
		updated time.Time
	}
)

// Ordered worst first
const (
	StatusCritical HealthStatusEnum = iota + 1
	StatusWarning
	StatusOK
	StatusUnknown
)

const (
	Hoptree_SessionManager HealthStatusComponent = "session-manager"
	Hoptree_SftpPool       HealthStatusComponent = "sftp-pool"
	Hoptree_WebBridge      HealthStatusComponent = "web-bridge"
)

const statusIndexErrorMessage = "Error: status string index out of range"

var (
	healthMu   sync.RWMutex
	components = make(map[HealthStatusComponent]componentHealth)

	HoptreeHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hoptree_component_health_status",
		Help: "Health of each long-lived component: 1 critical, 2 warning, 3 ok",
	}, []string{"component"})

	HoptreeHealthLastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hoptree_component_health_status_last_update",
		Help: "Unix time of the last health report per component",
	}, []string{"component"})

	statusNames = [...]string{"critical", "warning", "ok", "unknown"}
)

func (status HealthStatusEnum) String() string {
	if status < StatusCritical || int(status) > len(statusNames) {
		return statusIndexErrorMessage
	}
	return statusNames[status-1]
}

func (component HealthStatusComponent) String() string {
	return string(component)
}

// SetComponentHealthStatus records the latest report for a component
func SetComponentHealthStatus(component HealthStatusComponent, status HealthStatusEnum, msg string) {
	now := time.Now()
	healthMu.Lock()
	components[component] = componentHealth{status: status, message: msg, updated: now}
	healthMu.Unlock()

	HoptreeHealthStatus.WithLabelValues(component.String()).Set(float64(status))
	HoptreeHealthLastUpdate.WithLabelValues(component.String()).Set(float64(now.Unix()))
}

func DeleteComponentHealthStatus(component HealthStatusComponent) {
	healthMu.Lock()
	delete(components, component)
	healthMu.Unlock()
	HoptreeHealthStatus.DeleteLabelValues(component.String())
	HoptreeHealthLastUpdate.DeleteLabelValues(component.String())
}

func GetHealthStatus() HealthStatus {
	healthMu.RLock()
	defer healthMu.RUnlock()

	overall := StatusUnknown
	result := HealthStatus{ComponentStatus: make(map[string]ComponentStatus, len(components))}
	for component, health := range components {
		result.ComponentStatus[component.String()] = ComponentStatus{
			Status:     health.status.String(),
			Message:    health.message,
			LastUpdate: health.updated.Unix(),
		}
		if health.status < overall {
			overall = health.status
		}
	}
	result.OverallStatus = overall.String()
	return result
}
