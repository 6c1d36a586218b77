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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/resolver"
)

type resolution struct {
	NodeID string              `json:"node_id" yaml:"node_id"`
	Type   inventory.NodeType  `json:"type" yaml:"type"`
	Ssh    *resolver.SshParams `json:"ssh,omitempty" yaml:"ssh,omitempty"`
	Rdp    *resolver.RdpParams `json:"rdp,omitempty" yaml:"rdp,omitempty"`
}

var (
	resolveCmd = &cobra.Command{
		Use:   "resolve <node-id>",
		Short: "Print the effective connection parameters of a node",
		Long: `Print the effective connection parameters of a node after credential,
parent and tunnel inheritance. Secrets are never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	nodesCmd = &cobra.Command{
		Use:   "nodes",
		Short: "Print the inventory as a tree",
		Args:  cobra.NoArgs,
		RunE:  runNodes,
	}
)

func runResolve(cmd *cobra.Command, args []string) error {
	inv, err := loadInventory()
	if err != nil {
		return err
	}
	result, err := resolveNode(inv, args[0])
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), result, outputJSON)
}

func resolveNode(inv *inventory.Inventory, nodeID string) (*resolution, error) {
	node, err := inv.Node(nodeID)
	if err != nil {
		return nil, err
	}
	result := &resolution{NodeID: node.ID, Type: node.Type}
	switch node.Type {
	case inventory.NodeTypeSSH:
		result.Ssh, err = resolver.ResolveSsh(node, inv.Nodes, inv.Credentials, inv.Tunnels)
	case inventory.NodeTypeRDP:
		result.Rdp, err = resolver.ResolveRdp(node, inv.Nodes, inv.Credentials)
	default:
		return nil, errors.Errorf("node %s is a %s and has no connection parameters", node.ID, node.Type)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func runNodes(cmd *cobra.Command, _ []string) error {
	inv, err := loadInventory()
	if err != nil {
		return err
	}
	printTree(cmd.OutOrStdout(), inv, "", 0, make(map[string]bool))
	return nil
}

// printTree writes the subtree under parentID, one node per line
func printTree(w io.Writer, inv *inventory.Inventory, parentID string, depth int, seen map[string]bool) {
	for _, node := range inv.Children(parentID) {
		if seen[node.ID] {
			continue
		}
		seen[node.ID] = true
		fmt.Fprintf(w, "%s%s (%s, %s)\n", strings.Repeat("  ", depth), node.Name, node.ID, node.Type)
		printTree(w, inv, node.ID, depth+1, seen)
	}
}
