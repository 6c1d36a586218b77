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

package resolver

import (
	"github.com/hoptree/hoptree/inventory"
)

type (
	// axis is a bit set naming which groups of fields may be inherited
	axis uint8

	// fields is the inheritable view shared by node configs and tunnels.
	// Host and port are never part of it; a child always says where to connect.
	fields struct {
		Username      string
		Password      string
		KeyPath       string
		KeyPassphrase string
		UseAgent      bool
		Domain        string
		AuthSource    inventory.AuthSource
		CredentialID  string
		TunnelSource  inventory.TunnelSource
		TunnelIDs     []string
	}

	// ancestor is one step of an upward walk
	ancestor struct {
		Fields   fields
		ParentID string
		// Eligible marks an entry that may supply inherited fields; the walk
		// stops at the first eligible entry.
		Eligible bool
	}

	// lookupFunc finds an entity by id. A false return ends the walk as if
	// the root had been reached.
	lookupFunc func(id string) (ancestor, bool)
)

const (
	axisAuth axis = 1 << iota
	axisTunnel
)

func (a axis) has(b axis) bool {
	return a&b != 0
}

// wanted returns the axes the entity asks to inherit, limited to the ones
// the call site allows.
func (f fields) wanted(allowed axis) axis {
	var want axis
	if f.AuthSource.Normalize() == inventory.AuthSourceParent {
		want |= axisAuth
	}
	if f.TunnelSource.Normalize() == inventory.TunnelSourceParent {
		want |= axisTunnel
	}
	return want & allowed
}

func (f fields) clone() fields {
	out := f
	if f.TunnelIDs != nil {
		out.TunnelIDs = append([]string(nil), f.TunnelIDs...)
	}
	return out
}

// inherit computes the effective fields for an entity.
//
// It walks parent ids upward from parentID until it meets an eligible
// ancestor, then copies the requested axes from that ancestor onto a copy of
// own. If no eligible ancestor exists, own is returned unchanged. The walk
// stops at the nearest match; there is no deeper merge. selfID seeds the
// visited set so that a node listed as its own ancestor is reported as a
// cycle.
func inherit(selfID string, own fields, parentID string, lookup lookupFunc, allowed axis) (fields, error) {
	want := own.wanted(allowed)
	result := own.clone()
	if want == 0 {
		return result, nil
	}

	found, ok, err := nearestEligible(selfID, parentID, lookup)
	if err != nil {
		return fields{}, err
	}
	if !ok {
		return result, nil
	}

	if want.has(axisAuth) {
		result.Username = found.Username
		result.Password = found.Password
		result.KeyPath = found.KeyPath
		result.KeyPassphrase = found.KeyPassphrase
		result.UseAgent = found.UseAgent
		result.Domain = found.Domain
		result.AuthSource = found.AuthSource
		result.CredentialID = found.CredentialID
	}
	if want.has(axisTunnel) {
		result.TunnelSource = found.TunnelSource
		result.TunnelIDs = append([]string(nil), found.TunnelIDs...)
	}
	return result, nil
}

func nearestEligible(selfID, parentID string, lookup lookupFunc) (fields, bool, error) {
	visited := map[string]bool{}
	if selfID != "" {
		visited[selfID] = true
	}
	for id := parentID; id != ""; {
		if visited[id] {
			return fields{}, false, &inventory.ConfigurationError{
				Kind: inventory.ErrKindParentCycle,
				ID:   id,
				Msg:  "parent chain of " + selfID + " loops back on itself",
			}
		}
		visited[id] = true

		entry, ok := lookup(id)
		if !ok {
			return fields{}, false, nil
		}
		if entry.Eligible {
			return entry.Fields, true, nil
		}
		id = entry.ParentID
	}
	return fields{}, false, nil
}

func configFields(cfg *inventory.ConnectionConfig) fields {
	if cfg == nil {
		return fields{}
	}
	return fields{
		Username:      cfg.Username,
		Password:      cfg.Password,
		KeyPath:       cfg.KeyPath,
		KeyPassphrase: cfg.KeyPassphrase,
		UseAgent:      cfg.UseAgent,
		Domain:        cfg.Domain,
		AuthSource:    cfg.AuthSource,
		CredentialID:  cfg.CredentialID,
		TunnelSource:  cfg.TunnelSource,
		TunnelIDs:     cfg.TunnelIDs,
	}
}

func tunnelFields(t *inventory.Tunnel) fields {
	return fields{
		Username:      t.Username,
		Password:      t.Password,
		KeyPath:       t.KeyPath,
		KeyPassphrase: t.KeyPassphrase,
		UseAgent:      t.UseAgent,
		AuthSource:    t.AuthSource,
		CredentialID:  t.CredentialID,
		TunnelSource:  t.TunnelSource,
	}
}

// nodeLookup treats container nodes with a config as eligible ancestors.
func nodeLookup(nodes []inventory.Node) lookupFunc {
	return func(id string) (ancestor, bool) {
		node, ok := inventory.FindNode(nodes, id)
		if !ok {
			return ancestor{}, false
		}
		return ancestor{
			Fields:   configFields(node.Config),
			ParentID: node.ParentID,
			Eligible: node.Type.IsContainer() && node.Config != nil,
		}, true
	}
}

// tunnelLookup treats every existing tunnel as an eligible ancestor.
func tunnelLookup(tunnels []inventory.Tunnel) lookupFunc {
	return func(id string) (ancestor, bool) {
		t, ok := inventory.FindTunnel(tunnels, id)
		if !ok {
			return ancestor{}, false
		}
		return ancestor{
			Fields:   tunnelFields(t),
			ParentID: t.ParentID,
			Eligible: true,
		}, true
	}
}

// authMaterial is the secret-bearing part of an effective config
type authMaterial struct {
	Username      string
	Password      string
	KeyPath       string
	KeyPassphrase string
	UseAgent      bool
}

// materialize turns effective fields into concrete auth material. The auth
// source decides; a leftover credential id only counts when the source is
// unset, or always when preferCredential is set. The agent source carries
// the username only.
func materialize(eff fields, creds []inventory.Credential, preferCredential bool) (authMaterial, error) {
	src := eff.AuthSource.Normalize()
	if src == inventory.AuthSourceAgent {
		return authMaterial{Username: eff.Username, UseAgent: true}, nil
	}
	useCredential := src == inventory.AuthSourceCredential
	if eff.CredentialID != "" && (preferCredential || eff.AuthSource != inventory.AuthSourceInline) {
		useCredential = true
	}
	if useCredential {
		cred, err := inventory.MustCredential(creds, eff.CredentialID)
		if err != nil {
			return authMaterial{}, err
		}
		username := cred.Username
		if username == "" {
			username = eff.Username
		}
		return authMaterial{
			Username:      username,
			Password:      cred.Password,
			KeyPath:       cred.KeyPath,
			KeyPassphrase: cred.KeyPassphrase,
			UseAgent:      cred.UseAgent,
		}, nil
	}
	return authMaterial{
		Username:      eff.Username,
		Password:      eff.Password,
		KeyPath:       eff.KeyPath,
		KeyPassphrase: eff.KeyPassphrase,
		UseAgent:      eff.UseAgent,
	}, nil
}
