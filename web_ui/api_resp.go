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

type (
	// SimpleApiResp is the response body of endpoints that have nothing
	// richer to say than success or failure
	SimpleApiResp struct {
		Status SimpleRespStatus `json:"status"`
		Msg    string           `json:"msg,omitempty"`
	}

	// The standardized status message for the API response
	SimpleRespStatus string
)

const (
	// Indicates the API succeeded.
	RespOK SimpleRespStatus = "success"
	// Indicates the API call failed; the SimpleApiResp Msg should be non-empty in this case
	RespFailed SimpleRespStatus = "error"
)

func failed(msg string) SimpleApiResp {
	return SimpleApiResp{Status: RespFailed, Msg: msg}
}
