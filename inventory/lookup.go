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

package inventory

import (
	"fmt"
)

// ConfigurationErrorKind classifies a ConfigurationError
type ConfigurationErrorKind string

const (
	ErrKindCredentialNotFound ConfigurationErrorKind = "credential-not-found"
	ErrKindTunnelNotFound     ConfigurationErrorKind = "tunnel-not-found"
	ErrKindNodeNotFound       ConfigurationErrorKind = "node-not-found"
	ErrKindParentCycle        ConfigurationErrorKind = "parent-cycle"
)

// ConfigurationError reports a dangling reference or a corrupted tree.
// Callers must not attempt to connect after receiving one.
type ConfigurationError struct {
	Kind ConfigurationErrorKind
	ID   string
	Msg  string
}

func (e *ConfigurationError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("configuration error (%s %q): %s", e.Kind, e.ID, e.Msg)
	}
	return fmt.Sprintf("configuration error (%s %q)", e.Kind, e.ID)
}

// Is lets errors.Is match on kind alone when the target carries no ID
func (e *ConfigurationError) Is(target error) bool {
	t, ok := target.(*ConfigurationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.ID == "" || t.ID == e.ID)
}

// FindNode scans nodes for the given id.
func FindNode(nodes []Node, id string) (*Node, bool) {
	if id == "" {
		return nil, false
	}
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i], true
		}
	}
	return nil, false
}

// FindCredential scans credentials for the given id.
func FindCredential(creds []Credential, id string) (*Credential, bool) {
	if id == "" {
		return nil, false
	}
	for i := range creds {
		if creds[i].ID == id {
			return &creds[i], true
		}
	}
	return nil, false
}

// FindTunnel scans tunnels for the given id.
func FindTunnel(tunnels []Tunnel, id string) (*Tunnel, bool) {
	if id == "" {
		return nil, false
	}
	for i := range tunnels {
		if tunnels[i].ID == id {
			return &tunnels[i], true
		}
	}
	return nil, false
}

// MustCredential is FindCredential that turns a miss into a ConfigurationError
func MustCredential(creds []Credential, id string) (*Credential, error) {
	cred, ok := FindCredential(creds, id)
	if !ok {
		return nil, &ConfigurationError{Kind: ErrKindCredentialNotFound, ID: id, Msg: "credential not found"}
	}
	return cred, nil
}

// Node looks up a node in the inventory
func (inv *Inventory) Node(id string) (*Node, error) {
	node, ok := FindNode(inv.Nodes, id)
	if !ok {
		return nil, &ConfigurationError{Kind: ErrKindNodeNotFound, ID: id, Msg: "node not found"}
	}
	return node, nil
}

// Children returns the direct children of the given node id, in declaration order.
// An empty id returns the root nodes.
func (inv *Inventory) Children(parentID string) []*Node {
	var out []*Node
	for i := range inv.Nodes {
		if inv.Nodes[i].ParentID == parentID {
			out = append(out, &inv.Nodes[i])
		}
	}
	return out
}
