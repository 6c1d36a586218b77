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

// Package inventory holds the in-memory connection tree: nodes organised into
// groups, reusable credentials and jump-host tunnel definitions.
//
// The collections are loaded by an outside collaborator and handed to the
// resolver and the session managers by reference on every call; nothing in
// this module caches or mutates them.
package inventory

type (
	// NodeType identifies what a node in the tree represents
	NodeType string

	// AuthSource selects where a config (or tunnel) takes its authentication from
	AuthSource string

	// TunnelSource selects where a config (or tunnel) takes its jump chain from
	TunnelSource string
)

const (
	NodeTypeSSH        NodeType = "ssh"
	NodeTypeRDP        NodeType = "rdp"
	NodeTypeLocalShell NodeType = "local-shell"

	NodeTypeGroup      NodeType = "group"
	NodeTypeAWSGroup   NodeType = "aws-group"
	NodeTypeAzureGroup NodeType = "azure-group"
	NodeTypeGCPGroup   NodeType = "gcp-group"
)

const (
	// AuthSourceInline uses the password / key / agent fields on the config itself
	AuthSourceInline AuthSource = "inline"

	// AuthSourceCredential uses the shared credential named by CredentialID
	AuthSourceCredential AuthSource = "credential"

	// AuthSourceParent inherits from the nearest ancestor that carries a config
	AuthSourceParent AuthSource = "parent"

	// AuthSourceAgent authenticates with the local SSH agent
	AuthSourceAgent AuthSource = "agent"
)

const (
	TunnelSourceInlineList TunnelSource = "inline-list"
	TunnelSourceParent     TunnelSource = "parent"
)

// IsContainer reports whether nodes of this type group other nodes.
func (t NodeType) IsContainer() bool {
	switch t {
	case NodeTypeGroup, NodeTypeAWSGroup, NodeTypeAzureGroup, NodeTypeGCPGroup:
		return true
	default:
		return false
	}
}

// IsValid reports whether t is one of the known node types
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeSSH, NodeTypeRDP, NodeTypeLocalShell:
		return true
	}
	return t.IsContainer()
}

// Normalize maps the empty value onto AuthSourceInline.
func (s AuthSource) Normalize() AuthSource {
	if s == "" {
		return AuthSourceInline
	}
	return s
}

// Normalize maps the empty value onto TunnelSourceInlineList.
func (s TunnelSource) Normalize() TunnelSource {
	if s == "" {
		return TunnelSourceInlineList
	}
	return s
}

// ConnectionConfig carries the per-node connection settings.
//
// Exactly one family of auth material is meaningful at a time, selected by
// AuthSource. The tunnel axis (TunnelSource / TunnelIDs) is toggled
// independently of the auth axis.
type ConnectionConfig struct {
	Host          string       `yaml:"host" json:"host"`
	Port          int          `yaml:"port" json:"port"`
	Username      string       `yaml:"username" json:"username"`
	Password      string       `yaml:"password,omitempty" json:"-"`
	KeyPath       string       `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	KeyPassphrase string       `yaml:"key_passphrase,omitempty" json:"-"`
	UseAgent      bool         `yaml:"use_agent,omitempty" json:"use_agent,omitempty"`
	Domain        string       `yaml:"domain,omitempty" json:"domain,omitempty"`
	AuthSource    AuthSource   `yaml:"auth_source,omitempty" json:"auth_source,omitempty"`
	CredentialID  string       `yaml:"credential_id,omitempty" json:"credential_id,omitempty"`
	TunnelSource  TunnelSource `yaml:"tunnel_source,omitempty" json:"tunnel_source,omitempty"`
	TunnelIDs     []string     `yaml:"tunnel_ids,omitempty" json:"tunnel_ids,omitempty"`
}

// Clone returns a deep copy so callers can build derived configs without
// touching the original.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.TunnelIDs != nil {
		out.TunnelIDs = append([]string(nil), c.TunnelIDs...)
	}
	return &out
}

// Node is one element of the connection tree.
// Container nodes may have a nil Config; leaf nodes always have one.
type Node struct {
	ID       string            `yaml:"id" json:"id"`
	ParentID string            `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Type     NodeType          `yaml:"type" json:"type"`
	Name     string            `yaml:"name" json:"name"`
	Config   *ConnectionConfig `yaml:"config,omitempty" json:"config,omitempty"`
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// Credential is a named, reusable authentication profile
type Credential struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Username      string `yaml:"username" json:"username"`
	Password      string `yaml:"password,omitempty" json:"-"`
	KeyPath       string `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	KeyPassphrase string `yaml:"key_passphrase,omitempty" json:"-"`
	UseAgent      bool   `yaml:"use_agent,omitempty" json:"use_agent,omitempty"`
}

// Tunnel is a jump-host definition. A tunnel may inherit its auth (and its
// own tunnel selection) from the tunnel named by ParentID.
type Tunnel struct {
	ID            string       `yaml:"id" json:"id"`
	Name          string       `yaml:"name" json:"name"`
	ParentID      string       `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Host          string       `yaml:"host" json:"host"`
	Port          int          `yaml:"port" json:"port"`
	Username      string       `yaml:"username" json:"username"`
	Password      string       `yaml:"password,omitempty" json:"-"`
	KeyPath       string       `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	KeyPassphrase string       `yaml:"key_passphrase,omitempty" json:"-"`
	UseAgent      bool         `yaml:"use_agent,omitempty" json:"use_agent,omitempty"`
	AuthSource    AuthSource   `yaml:"auth_source,omitempty" json:"auth_source,omitempty"`
	CredentialID  string       `yaml:"credential_id,omitempty" json:"credential_id,omitempty"`
	TunnelSource  TunnelSource `yaml:"tunnel_source,omitempty" json:"tunnel_source,omitempty"`
}

// JumpHop is a fully resolved, ready-to-connect hop of a jump chain.
// It is produced by the resolver and never persisted.
type JumpHop struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"-" yaml:"-"`
	KeyPath       string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KeyPassphrase string `json:"-" yaml:"-"`
	UseAgent      bool   `json:"use_agent" yaml:"use_agent"`
}

// Inventory bundles the three collections the core consumes
type Inventory struct {
	Nodes       []Node       `yaml:"nodes"`
	Credentials []Credential `yaml:"credentials"`
	Tunnels     []Tunnel     `yaml:"tunnels"`
}
