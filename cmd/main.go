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
	"os"
)

// Set at build time with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	err := handleCLI(os.Args, os.Stdout)
	if err != nil {
		os.Exit(1)
	}
}

func handleCLI(args []string, out io.Writer) error {
	// * We assume that os.Args should have minimum length of 1, so skipped empty check
	// * The version flag is captured manually so it works after any subcommand
	if len(args) > 1 && args[len(args)-1] == "--version" {
		fmt.Fprintln(out, "Version:", version)
		fmt.Fprintln(out, "Build Date:", date)
		fmt.Fprintln(out, "Build Commit:", commit)
		fmt.Fprintln(out, "Built By:", builtBy)
		return nil
	}
	return Execute()
}
