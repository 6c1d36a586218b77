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
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/hoptree/hoptree/config"
	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/param"
)

// Given an input map of flag-->viper config, convert any comma-delineated
// input lists and store them as a string slice with Viper
func commaFlagsListToViperSlice(cmd *cobra.Command, flags map[string]string) {
	for flagName, viperName := range flags {
		if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
			trimmedValues := []string{}
			for _, value := range strings.Split(flagValue, ",") {
				trimmedValues = append(trimmedValues, strings.TrimSpace(value))
			}
			if err := param.Set(viperName, trimmedValues); err != nil {
				cobra.CheckErr(err)
			}
		}
	}
}

// loadInventory reads the file named by Inventory.File
func loadInventory() (*inventory.Inventory, error) {
	path := param.Inventory_File.GetString()
	if path == "" {
		return nil, errors.New("no inventory file configured; set Inventory.File or pass --inventory")
	}
	return inventory.Load(path)
}

// egrpFromContext returns the process errgroup stored by Execute, or a
// fresh one when the command runs outside it.
func egrpFromContext(ctx context.Context) *errgroup.Group {
	if egrp, ok := ctx.Value(config.EgrpKey).(*errgroup.Group); ok && egrp != nil {
		return egrp
	}
	egrp, _ := errgroup.WithContext(ctx)
	return egrp
}

// writeOutput renders v as YAML, or as indented JSON with --json
func writeOutput(w io.Writer, v interface{}, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode JSON output")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode YAML output")
	}
	return enc.Close()
}
