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
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/inventory"
)

// ResolveTunnelChain maps tunnel ids to resolved hops, keeping their order.
// Unknown ids are skipped. The result is nil, not empty, when no hop
// resolved.
func ResolveTunnelChain(ids []string, tunnels []inventory.Tunnel, creds []inventory.Credential) ([]inventory.JumpHop, error) {
	var chain []inventory.JumpHop
	for _, id := range ids {
		tunnel, ok := inventory.FindTunnel(tunnels, id)
		if !ok {
			log.Debugf("Skipping unknown tunnel %q in jump chain", id)
			continue
		}
		hop, err := ResolveTunnelAuth(tunnel, tunnels, creds)
		if err != nil {
			return nil, err
		}
		chain = append(chain, hop)
	}
	return chain, nil
}

// ResolveTunnelAuth resolves one tunnel into a ready-to-connect hop.
//
// A tunnel whose auth source is parent takes its auth from the tunnel named
// by ParentID, using the same walk as nodes. The tunnel's own credential id is
// preferred over its inline fields. The tunnel passed in is never modified.
func ResolveTunnelAuth(tunnel *inventory.Tunnel, tunnels []inventory.Tunnel, creds []inventory.Credential) (inventory.JumpHop, error) {
	if tunnel == nil {
		return inventory.JumpHop{}, errors.New("cannot resolve a nil tunnel")
	}
	eff, err := inherit(tunnel.ID, tunnelFields(tunnel), tunnel.ParentID, tunnelLookup(tunnels), axisAuth)
	if err != nil {
		return inventory.JumpHop{}, err
	}
	auth, err := materialize(eff, creds, true)
	if err != nil {
		return inventory.JumpHop{}, errors.Wrapf(err, "tunnel %s", tunnelName(tunnel))
	}

	hop := inventory.JumpHop{
		Host:          tunnel.Host,
		Port:          tunnel.Port,
		Username:      auth.Username,
		Password:      auth.Password,
		KeyPath:       auth.KeyPath,
		KeyPassphrase: auth.KeyPassphrase,
		UseAgent:      auth.UseAgent,
	}
	if hop.Port <= 0 {
		hop.Port = DefaultSshPort
	}
	return hop, nil
}

// ResolveTunnelByID is ResolveTunnelAuth for callers holding only an id; an
// unknown id is a configuration error here since the caller asked for it
// explicitly.
func ResolveTunnelByID(id string, tunnels []inventory.Tunnel, creds []inventory.Credential) (inventory.JumpHop, error) {
	tunnel, ok := inventory.FindTunnel(tunnels, id)
	if !ok {
		return inventory.JumpHop{}, &inventory.ConfigurationError{Kind: inventory.ErrKindTunnelNotFound, ID: id, Msg: "tunnel not found"}
	}
	return ResolveTunnelAuth(tunnel, tunnels, creds)
}

func tunnelName(t *inventory.Tunnel) string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}
