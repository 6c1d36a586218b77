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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hoptree/hoptree/config"
	"github.com/hoptree/hoptree/logging"
	"github.com/hoptree/hoptree/param"
)

var (
	cfgFile    string
	outputJSON bool

	rootCmd = &cobra.Command{
		Use:   "hoptree",
		Short: "Reach hosts in a connection tree",
		Long: `hoptree resolves connection settings through a tree of groups and
hosts, then opens terminals and SFTP connections to those hosts, directly
or through chains of SSH jump hosts.`,
		SilenceUsage: true,
	}
)

func Execute() error {
	logging.SetupLogBuffering()
	egrp, egrpCtx := errgroup.WithContext(context.Background())
	ctx := context.WithValue(egrpCtx, config.EgrpKey, egrp)
	exeErr := rootCmd.ExecuteContext(ctx)
	if exeErr != nil {
		log.Errorln("Fatal error occurred at the start of the program. Cleanup started:", exeErr)
	}
	// Wait until all goroutines in errgroup finish their clean up
	egrpErr := egrp.Wait()
	if egrpErr != nil {
		log.Errorln("Fatal error occurred that lead to the shutdown of the process:", egrpErr)
		return egrpErr
	}
	return exeErr
}

func flushLogs() {
	logging.FlushLogs(param.Logging_LogLocation.GetString() != "")
}

func init() {
	cobra.OnInitialize(config.InitConfig, flushLogs)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sftpCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loggingCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/hoptree/hoptree.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logs")

	rootCmd.PersistentFlags().StringP("log", "l", "", "Specified log output file")
	if err := viper.BindPFlag(param.Logging_LogLocation.GetName(), rootCmd.PersistentFlags().Lookup("log")); err != nil {
		panic(err)
	}

	rootCmd.PersistentFlags().StringP("inventory", "i", "", "Inventory file (default is $HOME/.config/hoptree/inventory.yaml)")
	if err := viper.BindPFlag(param.Inventory_File.GetName(), rootCmd.PersistentFlags().Lookup("inventory")); err != nil {
		panic(err)
	}

	// Register the version flag here just so --help will show this flag
	// Actual checking is executed at main.go
	rootCmd.PersistentFlags().BoolP("version", "", false, "Print the version and exit")

	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "", false, "output results in JSON format")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("Debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}
}
