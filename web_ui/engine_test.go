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
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/test_utils"
)

// Test the engine startup, serving a request, then a clean shutdown.
func TestRunEngine(t *testing.T) {
	t.Cleanup(test_utils.SetupTestLogging(t))
	ctx, cancel, egrp := test_utils.TestContext(context.Background(), t)
	defer cancel()

	engine := GetEngine()
	engine.GET("/ping", func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("pong"))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- runEngineWithListener(ctx, ln, engine, egrp)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, metrics.StatusOK.String(), metrics.GetHealthStatus().ComponentStatus[metrics.Hoptree_WebBridge.String()].Status)

	cancel()
	select {
	case err := <-doneChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}
	require.NoError(t, egrp.Wait())

	_, err = http.Get("http://" + ln.Addr().String() + "/ping")
	assert.Error(t, err)
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	metrics.SetComponentHealthStatus(metrics.Hoptree_SftpPool, metrics.StatusOK, "test")

	status, body := ts.get(t, "/api/v1.0/health")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"sftp-pool"`)

	status, _ = ts.get(t, "/api/v1.0/nodes")
	require.Equal(t, http.StatusOK, status)

	status, body = ts.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "hoptree_requests_total")
	assert.Contains(t, string(body), `url="/api/v1.0/nodes"`)
	assert.NotContains(t, string(body), `url="/metrics"`)
	assert.Contains(t, string(body), "hoptree_component_health_status")
}
