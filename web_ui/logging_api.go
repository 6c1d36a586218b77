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

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/config"
	"github.com/hoptree/hoptree/param"
)

type (
	// SetLogLevelRequest changes Logging.Level for the running process
	SetLogLevelRequest struct {
		Level string `json:"level" binding:"required"` // Log level (e.g., "debug", "info", "warn", "error")
	}

	// LogLevelStatusResponse represents the current log level status
	LogLevelStatusResponse struct {
		CurrentLevel    string `json:"currentLevel" yaml:"currentLevel"`
		ConfiguredLevel string `json:"configuredLevel" yaml:"configuredLevel"`
	}
)

// HandleSetLogLevel handles PUT requests that change the log level. The new
// value goes through the parameter layer, whose callback applies it.
func HandleSetLogLevel(ctx *gin.Context) {
	var req SetLogLevelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, failed("Invalid request: "+err.Error()))
		return
	}

	level, err := log.ParseLevel(req.Level)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, failed("Invalid log level: "+req.Level))
		return
	}

	if err := param.Set(param.Logging_Level.GetName(), level.String()); err != nil {
		ctx.JSON(http.StatusInternalServerError, failed("Failed to apply log level change: "+err.Error()))
		return
	}

	log.WithFields(log.Fields{
		"level":  level.String(),
		"client": ctx.RemoteIP(),
	}).Info("Log level change requested")

	ctx.JSON(http.StatusOK, LogLevelStatusResponse{
		CurrentLevel:    config.GetEffectiveLogLevel().String(),
		ConfiguredLevel: level.String(),
	})
}

// HandleGetLogLevel handles GET requests to retrieve current log level status
func HandleGetLogLevel(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, LogLevelStatusResponse{
		CurrentLevel:    config.GetEffectiveLogLevel().String(),
		ConfiguredLevel: param.Logging_Level.GetString(),
	})
}
