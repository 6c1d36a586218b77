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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hoptree/hoptree/config"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/web_ui"
)

var (
	serverURLStr string

	loggingCmd = &cobra.Command{
		Use:   "logging",
		Short: "Inspect or change the log level of a running bridge",
	}

	loggingSetLevelCmd = &cobra.Command{
		Use:   "set-level <level>",
		Short: "Change the log level of a running bridge",
		Long: `Change the log level of a running "hoptree serve".

Valid log levels: trace, debug, info, warn, error, fatal, panic

Examples:
  hoptree logging set-level debug
  hoptree logging set-level info -s http://127.0.0.1:8444`,
		Args: cobra.ExactArgs(1),
		RunE: setLogLevel,
	}

	loggingGetLevelCmd = &cobra.Command{
		Use:   "get-level",
		Short: "Print the log level of a running bridge",
		Args:  cobra.NoArgs,
		RunE:  getLogLevel,
	}
)

func init() {
	loggingCmd.AddCommand(loggingSetLevelCmd)
	loggingCmd.AddCommand(loggingGetLevelCmd)
	loggingCmd.PersistentFlags().StringVarP(&serverURLStr, "server", "s", "", "Web URL of the bridge (default is built from Server.WebHost and Server.WebPort)")
}

// constructLoggingApiURL returns the logging endpoint under srvURL
func constructLoggingApiURL(srvURL string) (*url.URL, error) {
	if srvURL == "" {
		srvURL = "http://" + net.JoinHostPort(param.Server_WebHost.GetString(), strconv.Itoa(param.Server_WebPort.GetInt()))
	}
	parsed, err := url.Parse(srvURL)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid server URL")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("Invalid server URL %q: a scheme and host are required", srvURL)
	}
	return parsed.JoinPath("/api/v1.0/logging/level"), nil
}

func doLoggingRequest(ctx context.Context, method string, body []byte) (*web_ui.LogLevelStatusResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	targetURL, err := constructLoggingApiURL(serverURLStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, targetURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Transport: config.GetTransport()}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to reach the bridge")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiResp web_ui.SimpleApiResp
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err == nil && apiResp.Msg != "" {
			return nil, errors.Errorf("Server returned %d: %s", resp.StatusCode, apiResp.Msg)
		}
		return nil, errors.Errorf("Server returned %d", resp.StatusCode)
	}

	var status web_ui.LogLevelStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, "Failed to decode response")
	}
	return &status, nil
}

func setLogLevel(cmd *cobra.Command, args []string) error {
	payloadBytes, err := json.Marshal(web_ui.SetLogLevelRequest{Level: args[0]})
	if err != nil {
		return errors.Wrap(err, "Failed to marshal request payload")
	}
	status, err := doLoggingRequest(cmd.Context(), http.MethodPut, payloadBytes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Log level set to %s\n", status.ConfiguredLevel)
	return nil
}

func getLogLevel(cmd *cobra.Command, _ []string) error {
	status, err := doLoggingRequest(cmd.Context(), http.MethodGet, nil)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), status, outputJSON)
}
