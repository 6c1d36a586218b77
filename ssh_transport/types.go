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

// Package ssh_transport provides the SSH capabilities the session managers
// are built on: authenticated connects, host key verification, local port
// forwards and the jump chain that nests them.
package ssh_transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/resolver"
)

const (
	// DefaultConnectTimeout bounds the TCP connect plus handshake of one hop
	DefaultConnectTimeout = 30 * time.Second

	// DefaultHopTimeout bounds the whole connect of one hop in a chain
	DefaultHopTimeout = 60 * time.Second
)

// ErrNoAuthMethod is returned when an endpoint carries no usable auth material
var ErrNoAuthMethod = errors.New("no auth method configured")

type (
	// Endpoint is a host plus the auth material used to log into it.
	// Host and Port name the logical destination; the address actually
	// dialed may be a local forward leading there.
	Endpoint struct {
		Host          string
		Port          int
		Username      string
		Password      string
		KeyPath       string
		KeyPassphrase string
		UseAgent      bool
	}

	// Options tunes how connections are made
	Options struct {
		ConnectTimeout time.Duration
		HopTimeout     time.Duration
		KnownHostsFile string
		AutoAddHostKey bool
		// InsecureIgnoreHostKey skips verification entirely; tests only
		InsecureIgnoreHostKey bool
		KeepaliveInterval     time.Duration
	}

	// Client is the part of *ssh.Client the chain and the session managers use
	Client interface {
		NewSession() (*ssh.Session, error)
		Dial(network, addr string) (net.Conn, error)
		SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
		Close() error
		Wait() error
	}

	// Dialer opens an authenticated SSH connection to addr. The endpoint names
	// the logical destination used for host key checks.
	Dialer interface {
		Dial(ctx context.Context, network, addr string, ep Endpoint) (Client, error)
	}

	// ChainError reports which hop of a chain failed. Hop == Total means the
	// final connection to the destination failed.
	ChainError struct {
		Hop   int
		Total int
		Addr  string
		Err   error
	}
)

var _ Client = (*ssh.Client)(nil)

func (e *ChainError) Error() string {
	if e.Hop >= e.Total {
		if e.Total == 0 {
			return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
		}
		return fmt.Sprintf("failed to connect to destination %s through %d jump host(s): %v", e.Addr, e.Total, e.Err)
	}
	return fmt.Sprintf("failed to connect to jump host %d of %d (%s): %v", e.Hop+1, e.Total, e.Addr, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Partial reports whether some hops were up before the failure
func (e *ChainError) Partial() bool {
	return e.Hop > 0
}

// Address returns host:port of the logical destination
func (ep Endpoint) Address() string {
	return net.JoinHostPort(ep.Host, strconv.Itoa(ep.port()))
}

// HasAuth reports whether the endpoint carries any auth material
func (ep Endpoint) HasAuth() bool {
	return ep.Password != "" || ep.KeyPath != "" || ep.UseAgent
}

func (ep Endpoint) port() int {
	if ep.Port <= 0 {
		return resolver.DefaultSshPort
	}
	return ep.Port
}

// EndpointFromHop converts a resolved jump hop
func EndpointFromHop(hop inventory.JumpHop) Endpoint {
	return Endpoint{
		Host:          hop.Host,
		Port:          hop.Port,
		Username:      hop.Username,
		Password:      hop.Password,
		KeyPath:       hop.KeyPath,
		KeyPassphrase: hop.KeyPassphrase,
		UseAgent:      hop.UseAgent,
	}
}

// EndpointFromParams converts the destination part of resolved SSH params
func EndpointFromParams(p *resolver.SshParams) Endpoint {
	return Endpoint{
		Host:          p.Host,
		Port:          p.Port,
		Username:      p.Username,
		Password:      p.Password,
		KeyPath:       p.KeyPath,
		KeyPassphrase: p.KeyPassphrase,
		UseAgent:      p.UseAgent,
	}
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

func (o Options) hopTimeout() time.Duration {
	if o.HopTimeout <= 0 {
		return DefaultHopTimeout
	}
	return o.HopTimeout
}

// OptionsFromConfig builds Options from the SSH.* parameters
func OptionsFromConfig() Options {
	return Options{
		ConnectTimeout:    param.SSH_ConnectTimeout.GetDuration(),
		HopTimeout:        param.SSH_HopTimeout.GetDuration(),
		KnownHostsFile:    param.SSH_KnownHostsFile.GetString(),
		AutoAddHostKey:    param.SSH_AutoAddHostKey.GetBool(),
		KeepaliveInterval: param.SSH_KeepaliveInterval.GetDuration(),
	}
}
