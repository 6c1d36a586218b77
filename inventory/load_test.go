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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
nodes:
  - id: prod
    type: group
    name: Production
    config:
      auth_source: credential
      credential_id: ops
      tunnel_ids: [bastion]
  - id: web1
    parent_id: prod
    type: ssh
    name: web1
    config:
      host: 10.0.0.5
      auth_source: parent
      tunnel_source: parent
  - id: shell
    type: local-shell
    name: Local
credentials:
  - id: ops
    name: Ops
    username: ops
    password: hunter2
tunnels:
  - id: bastion
    name: Bastion
    host: bastion.example.org
    port: 2222
    username: jump
    use_agent: true
    auth_source: agent
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0600))

	inv, err := Load(path)
	require.NoError(t, err)
	require.Len(t, inv.Nodes, 3)
	require.Len(t, inv.Credentials, 1)
	require.Len(t, inv.Tunnels, 1)

	web1, err := inv.Node("web1")
	require.NoError(t, err)
	assert.Equal(t, NodeTypeSSH, web1.Type)
	assert.Equal(t, AuthSourceParent, web1.Config.AuthSource)
	assert.Equal(t, TunnelSourceParent, web1.Config.TunnelSource)

	// Leaf without a config gets an empty one
	shell, err := inv.Node("shell")
	require.NoError(t, err)
	require.NotNil(t, shell.Config)

	prod, _ := inv.Node("prod")
	assert.Equal(t, []string{"bastion"}, prod.Config.TunnelIDs)
	assert.Len(t, inv.Children("prod"), 1)
	assert.Len(t, inv.Children(""), 2)

	_, err = inv.Node("nope")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrKindNodeNotFound, cfgErr.Kind)
}

func TestParseRejectsBadInventories(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown type", doc: "nodes:\n  - id: a\n    type: mainframe\n"},
		{name: "duplicate node", doc: "nodes:\n  - id: a\n    type: group\n  - id: a\n    type: group\n"},
		{name: "missing id", doc: "nodes:\n  - type: group\n"},
		{name: "duplicate credential", doc: "credentials:\n  - id: c\n  - id: c\n"},
		{name: "duplicate tunnel", doc: "tunnels:\n  - id: t\n  - id: t\n"},
		{name: "unknown field", doc: "nodes:\n  - id: a\n    type: group\n    colour: red\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, AuthSourceInline, AuthSource("").Normalize())
	assert.Equal(t, AuthSourceAgent, AuthSourceAgent.Normalize())
	assert.Equal(t, TunnelSourceInlineList, TunnelSource("").Normalize())
	assert.True(t, NodeTypeGCPGroup.IsContainer())
	assert.False(t, NodeTypeRDP.IsContainer())
}

func TestConfigClone(t *testing.T) {
	orig := &ConnectionConfig{Host: "h", TunnelIDs: []string{"a"}}
	c := orig.Clone()
	c.TunnelIDs[0] = "b"
	assert.Equal(t, "a", orig.TunnelIDs[0])
	assert.Nil(t, (*ConnectionConfig)(nil).Clone())
}
