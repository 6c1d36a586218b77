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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hoptree/hoptree/param"
)

type (
	ContextKey string
)

const (
	// EgrpKey holds the process-wide errgroup in a command's context
	EgrpKey = ContextKey("egrp")

	EnvPrefix = "hoptree"
)

// ConfigDir returns $HOME/.config/hoptree, or the empty string when the
// home directory cannot be determined.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hoptree")
}

// SetDefaults installs the default value of every parameter into v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(param.Logging_Level.GetName(), "info")
	v.SetDefault(param.Logging_LogLocation.GetName(), "")

	if dir := ConfigDir(); dir != "" {
		v.SetDefault(param.Inventory_File.GetName(), filepath.Join(dir, "inventory.yaml"))
	}

	v.SetDefault(param.SSH_ConnectTimeout.GetName(), 30*time.Second)
	v.SetDefault(param.SSH_HopTimeout.GetName(), 60*time.Second)
	v.SetDefault(param.SSH_KnownHostsFile.GetName(), "")
	v.SetDefault(param.SSH_AutoAddHostKey.GetName(), false)
	v.SetDefault(param.SSH_KeepaliveInterval.GetName(), 30*time.Second)

	v.SetDefault(param.Session_LocalShell.GetName(), "")
	v.SetDefault(param.Session_Term.GetName(), "xterm-256color")

	v.SetDefault(param.Sftp_IdleTimeout.GetName(), 10*time.Minute)
	v.SetDefault(param.Sftp_MaxPacketSize.GetName(), 32768)

	v.SetDefault(param.Server_WebHost.GetName(), "127.0.0.1")
	v.SetDefault(param.Server_WebPort.GetName(), 8444)
	v.SetDefault(param.Server_AllowedOrigins.GetName(), []string{})

	v.SetDefault(param.Transport_DialerTimeout.GetName(), 10*time.Second)
	v.SetDefault(param.Transport_DialerKeepAlive.GetName(), 30*time.Second)
	v.SetDefault(param.Transport_MaxIdleConns.GetName(), 10)
	v.SetDefault(param.Transport_IdleConnTimeout.GetName(), 90*time.Second)
	v.SetDefault(param.Transport_TLSHandshakeTimeout.GetName(), 10*time.Second)
	v.SetDefault(param.Transport_ExpectContinueTimeout.GetName(), time.Second)
	v.SetDefault(param.Transport_ResponseHeaderTimeout.GetName(), 30*time.Second)
}

// InitConfig is the cobra initializer: it reads the environment and config
// file into the global viper instance, refreshes the param snapshot and
// applies the log level. Any error is fatal.
func InitConfig() {
	cobra.CheckErr(InitConfigInternal(viper.GetViper()))
}

func InitConfigInternal(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return err
	}

	if v.GetBool("Debug") {
		v.Set(param.Logging_Level.GetName(), "debug")
	}

	if _, err := param.Refresh(); err != nil {
		return errors.Wrap(err, "failed to decode configuration")
	}

	if err := setLogLevel(param.Logging_Level.GetString()); err != nil {
		return err
	}
	initFilterLogging()
	RegisterLoggingCallback()
	return nil
}

// readConfigFile loads the file named by --config, falling back to
// $HOME/.config/hoptree/hoptree.yaml. Only the explicit file must exist.
func readConfigFile(v *viper.Viper) error {
	explicit := v.GetString("config")
	configFile := explicit
	if configFile == "" {
		dir := ConfigDir()
		if dir == "" {
			return nil
		}
		configFile = filepath.Join(dir, "hoptree.yaml")
		if _, err := os.Stat(configFile); err != nil {
			log.Debugf("No config file at %s; using defaults", configFile)
			return nil
		}
	}

	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit != "" {
			return errors.Wrapf(err, "failed to read config file %s", configFile)
		}
		log.Warningf("Ignoring unreadable config file %s: %v", configFile, err)
		return nil
	}
	log.Debugf("Using config file %s", v.ConfigFileUsed())
	return nil
}

func setLogLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid Logging.Level %q", level)
	}
	log.SetLevel(parsed)
	return nil
}
