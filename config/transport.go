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

package config

import (
	"net"
	"net/http"
	"sync"

	"github.com/hoptree/hoptree/param"
)

var (
	// Our global transport for talking to a running bridge
	transport *http.Transport

	// Once to ensure we only set up the transport once
	onceTransport sync.Once
)

// function to get/setup the transport (only once)
func GetTransport() *http.Transport {
	onceTransport.Do(func() {
		transport = newTransport()
	})
	return transport
}

// newTransport builds a transport from the Transport.* parameters
func newTransport() *http.Transport {
	defaultDialer := net.Dialer{
		Timeout:   param.Transport_DialerTimeout.GetDuration(),
		KeepAlive: param.Transport_DialerKeepAlive.GetDuration(),
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           defaultDialer.DialContext,
		MaxIdleConns:          param.Transport_MaxIdleConns.GetInt(),
		IdleConnTimeout:       param.Transport_IdleConnTimeout.GetDuration(),
		TLSHandshakeTimeout:   param.Transport_TLSHandshakeTimeout.GetDuration(),
		ExpectContinueTimeout: param.Transport_ExpectContinueTimeout.GetDuration(),
		ResponseHeaderTimeout: param.Transport_ResponseHeaderTimeout.GetDuration(),
	}
}
