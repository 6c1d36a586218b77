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
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hoptree/hoptree/metrics"
	"github.com/hoptree/hoptree/param"
	"github.com/hoptree/hoptree/sftp_pool"
	"github.com/hoptree/hoptree/ssh_transport"
	"github.com/hoptree/hoptree/web_ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket bridge",
	Long: `Serve the HTTP and websocket bridge for an external UI: node resolution,
SFTP listings and downloads, interactive terminals, health and metrics.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	serveCmd.Flags().Uint16P("port", "p", 0, "Set the port at which the web server should be accessible")
	if err := viper.BindPFlag(param.Server_WebPort.GetName(), serveCmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	serveCmd.Flags().String("host", "", "Address the web server binds to")
	if err := viper.BindPFlag(param.Server_WebHost.GetName(), serveCmd.Flags().Lookup("host")); err != nil {
		panic(err)
	}
	serveCmd.Flags().String("origins", "", "Comma-separated browser origins allowed to open terminals")
}

func serve(cmd *cobra.Command, _ []string) error {
	commaFlagsListToViperSlice(cmd, map[string]string{"origins": param.Server_AllowedOrigins.GetName()})

	inv, err := loadInventory()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	egrp := egrpFromContext(ctx)

	opts := ssh_transport.OptionsFromConfig()
	dialer := ssh_transport.NewDialer(opts)
	pool := sftp_pool.NewPool(dialer, opts)
	pool.Start(ctx, egrp)

	server := web_ui.NewServer(inv, dialer, opts, pool)
	egrp.Go(func() error {
		<-ctx.Done()
		log.Infoln("Closing open sessions")
		server.Shutdown()
		return nil
	})
	metrics.SetComponentHealthStatus(metrics.Hoptree_SessionManager, metrics.StatusOK, "ready")

	engine := web_ui.GetEngine()
	server.RegisterRoutes(engine)
	return web_ui.RunEngine(ctx, engine, egrp)
}
