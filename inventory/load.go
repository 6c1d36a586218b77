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
	"bytes"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load reads an inventory fixture from a YAML file.
//
// The fixture is how the CLI and the web bridge get their pre-loaded
// collections; it is not a storage format and carries no encryption.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read inventory file %s", path)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse inventory file %s", path)
	}
	log.Debugf("Loaded inventory from %s: %d nodes, %d credentials, %d tunnels",
		path, len(inv.Nodes), len(inv.Credentials), len(inv.Tunnels))
	return inv, nil
}

// Parse decodes an inventory document and validates it.
func Parse(data []byte) (*Inventory, error) {
	inv := &Inventory{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(inv); err != nil {
		return nil, err
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Validate checks structural invariants that the resolver relies on:
// unique ids, known node types, and that leaf nodes carry a config.
// Dangling references are left for the resolver, which reports them at use.
func (inv *Inventory) Validate() error {
	seen := make(map[string]bool, len(inv.Nodes))
	for i := range inv.Nodes {
		node := &inv.Nodes[i]
		if node.ID == "" {
			return errors.Errorf("node #%d has no id", i)
		}
		if seen[node.ID] {
			return errors.Errorf("duplicate node id %q", node.ID)
		}
		seen[node.ID] = true
		if !node.Type.IsValid() {
			return errors.Errorf("node %q has unknown type %q", node.ID, node.Type)
		}
		if !node.Type.IsContainer() && node.Config == nil {
			// Editors create leaf configs lazily; an empty one is equivalent.
			node.Config = &ConnectionConfig{}
		}
	}

	credIDs := make(map[string]bool, len(inv.Credentials))
	for i, cred := range inv.Credentials {
		if cred.ID == "" {
			return errors.Errorf("credential #%d has no id", i)
		}
		if credIDs[cred.ID] {
			return errors.Errorf("duplicate credential id %q", cred.ID)
		}
		credIDs[cred.ID] = true
	}

	tunnelIDs := make(map[string]bool, len(inv.Tunnels))
	for i, tunnel := range inv.Tunnels {
		if tunnel.ID == "" {
			return errors.Errorf("tunnel #%d has no id", i)
		}
		if tunnelIDs[tunnel.ID] {
			return errors.Errorf("duplicate tunnel id %q", tunnel.ID)
		}
		tunnelIDs[tunnel.ID] = true
	}
	return nil
}
