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
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/param"
)

// GetEngine returns a gin engine with recovery, request logging, request
// metrics and the health and metrics endpoints installed.
func GetEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	webLogger := log.WithFields(log.Fields{"daemon": "gin"})
	engine.Use(func(ctx *gin.Context) {
		startTime := time.Now()

		ctx.Next()

		latency := time.Since(startTime)
		webLogger.WithFields(log.Fields{"method": ctx.Request.Method,
			"status":   ctx.Writer.Status(),
			"time":     latency.String(),
			"client":   ctx.RemoteIP(),
			"resource": ctx.Request.URL.Path},
		).Debug("Served Request")
	})
	ConfigureMetrics(engine)
	return engine
}

// RunEngine serves engine on Server.WebHost:Server.WebPort until ctx is done
func RunEngine(ctx context.Context, engine *gin.Engine, egrp *errgroup.Group) error {
	addr := net.JoinHostPort(param.Server_WebHost.GetString(), strconv.Itoa(param.Server_WebPort.GetInt()))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	log.Infof("Web bridge listening on http://%s", ln.Addr())
	return runEngineWithListener(ctx, ln, engine, egrp)
}

// runEngineWithListener serves on ln; cancelling ctx shuts the server down
// gracefully and returns nil.
func runEngineWithListener(ctx context.Context, ln net.Listener, engine *gin.Engine, egrp *errgroup.Group) error {
	server := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metrics.SetComponentHealthStatus(metrics.Hoptree_WebBridge, metrics.StatusOK, fmt.Sprintf("listening on %s", ln.Addr()))

	egrp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Debugln("Shutting down the web engine")
		return server.Shutdown(shutdownCtx)
	})

	err := server.Serve(ln)
	metrics.SetComponentHealthStatus(metrics.Hoptree_WebBridge, metrics.StatusWarning, "stopped")
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web engine failed")
	}
	return nil
}
