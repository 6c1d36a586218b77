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

// Package resolver computes the effective connection parameters of a node.
//
// Every function here is pure: the collections are scanned by id on each
// call and nothing passed in is ever modified.
package resolver

import (
	"github.com/pkg/errors"

	"github.com/hoptree/hoptree/inventory"
)

const (
	DefaultSshPort     = 22
	DefaultRdpPort     = 3389
	DefaultRdpUsername = "administrator"
)

type (
	// SshParams is the effective configuration of an SSH node
	SshParams struct {
		Host          string              `json:"host" yaml:"host"`
		Port          int                 `json:"port" yaml:"port"`
		Username      string              `json:"username" yaml:"username"`
		Password      string              `json:"-" yaml:"-"`
		KeyPath       string              `json:"key_path,omitempty" yaml:"key_path,omitempty"`
		KeyPassphrase string              `json:"-" yaml:"-"`
		JumpChain     []inventory.JumpHop `json:"jump_chain,omitempty" yaml:"jump_chain,omitempty"`
		UseAgent      bool                `json:"use_agent" yaml:"use_agent"`
	}

	// RdpParams is the effective configuration of an RDP node
	RdpParams struct {
		Host     string `json:"host" yaml:"host"`
		Port     int    `json:"port" yaml:"port"`
		Username string `json:"username" yaml:"username"`
		Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
		Password string `json:"-" yaml:"-"`
	}
)

// HasAuth reports whether any auth material was resolved
func (p *SshParams) HasAuth() bool {
	return p.Password != "" || p.KeyPath != "" || p.UseAgent
}

// ResolveSsh computes the effective SSH parameters of node.
//
// Auth and tunnel selection are inherited independently from the nearest
// ancestor container that carries a config. A dangling credential reference
// or a parent cycle fails with *inventory.ConfigurationError.
func ResolveSsh(node *inventory.Node, nodes []inventory.Node, creds []inventory.Credential, tunnels []inventory.Tunnel) (*SshParams, error) {
	if node == nil {
		return nil, errors.New("cannot resolve a nil node")
	}
	eff, err := inherit(node.ID, configFields(node.Config), node.ParentID, nodeLookup(nodes), axisAuth|axisTunnel)
	if err != nil {
		return nil, err
	}
	auth, err := materialize(eff, creds, false)
	if err != nil {
		return nil, err
	}

	params := &SshParams{
		Username:      auth.Username,
		Password:      auth.Password,
		KeyPath:       auth.KeyPath,
		KeyPassphrase: auth.KeyPassphrase,
		UseAgent:      auth.UseAgent,
		Port:          DefaultSshPort,
	}
	if node.Config != nil {
		params.Host = node.Config.Host
		if node.Config.Port > 0 {
			params.Port = node.Config.Port
		}
	}

	// A tunnel source still set to parent here means no ancestor supplied
	// one; the node's own list (normally empty) is used.
	if len(eff.TunnelIDs) > 0 {
		chain, err := ResolveTunnelChain(eff.TunnelIDs, tunnels, creds)
		if err != nil {
			return nil, err
		}
		params.JumpChain = chain
	}
	return params, nil
}

// ResolveRdp computes the effective RDP parameters of node. RDP is single hop
// so only the auth axis is inherited.
func ResolveRdp(node *inventory.Node, nodes []inventory.Node, creds []inventory.Credential) (*RdpParams, error) {
	if node == nil {
		return nil, errors.New("cannot resolve a nil node")
	}
	eff, err := inherit(node.ID, configFields(node.Config), node.ParentID, nodeLookup(nodes), axisAuth)
	if err != nil {
		return nil, err
	}
	auth, err := materialize(eff, creds, false)
	if err != nil {
		return nil, err
	}

	params := &RdpParams{
		Username: auth.Username,
		Domain:   eff.Domain,
		Password: auth.Password,
		Port:     DefaultRdpPort,
	}
	if params.Username == "" {
		params.Username = DefaultRdpUsername
	}
	if node.Config != nil {
		params.Host = node.Config.Host
		if node.Config.Port > 0 {
			params.Port = node.Config.Port
		}
	}
	return params, nil
}
