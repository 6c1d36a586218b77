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
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptree/hoptree/param"
)

func resetConfig(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Setenv("HOME", t.TempDir())
	level := log.GetLevel()
	t.Cleanup(func() {
		param.ClearCallbacks()
		require.NoError(t, param.Reset())
		log.SetLevel(level)
	})
}

func TestInitConfigDefaults(t *testing.T) {
	resetConfig(t)

	require.NoError(t, InitConfigInternal(viper.GetViper()))

	assert.Equal(t, 30*time.Second, param.SSH_ConnectTimeout.GetDuration())
	assert.Equal(t, 60*time.Second, param.SSH_HopTimeout.GetDuration())
	assert.Equal(t, 30*time.Second, param.SSH_KeepaliveInterval.GetDuration())
	assert.False(t, param.SSH_AutoAddHostKey.GetBool())
	assert.Equal(t, "xterm-256color", param.Session_Term.GetString())
	assert.Equal(t, 10*time.Minute, param.Sftp_IdleTimeout.GetDuration())
	assert.Equal(t, 32768, param.Sftp_MaxPacketSize.GetInt())
	assert.Equal(t, "127.0.0.1", param.Server_WebHost.GetString())
	assert.Equal(t, 8444, param.Server_WebPort.GetInt())
	assert.Equal(t, filepath.Join(ConfigDir(), "inventory.yaml"), param.Inventory_File.GetString())
	assert.Equal(t, log.InfoLevel, GetEffectiveLogLevel())
}

func TestInitConfigEnvOverride(t *testing.T) {
	resetConfig(t)
	t.Setenv("HOPTREE_SSH_HOPTIMEOUT", "5s")
	t.Setenv("HOPTREE_SESSION_TERM", "vt220")
	t.Setenv("HOPTREE_LOGGING_LEVEL", "warn")

	require.NoError(t, InitConfigInternal(viper.GetViper()))

	assert.Equal(t, 5*time.Second, param.SSH_HopTimeout.GetDuration())
	assert.Equal(t, "vt220", param.Session_Term.GetString())
	assert.Equal(t, log.WarnLevel, GetEffectiveLogLevel())
}

func TestInitConfigFile(t *testing.T) {
	resetConfig(t)

	dir := ConfigDir()
	require.NoError(t, os.MkdirAll(dir, 0750))
	content := `
SSH:
  AutoAddHostKey: true
  KnownHostsFile: /tmp/hoptree_known_hosts
Sftp:
  IdleTimeout: 2m
Server:
  AllowedOrigins:
    - http://localhost:3000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hoptree.yaml"), []byte(content), 0600))

	require.NoError(t, InitConfigInternal(viper.GetViper()))

	assert.True(t, param.SSH_AutoAddHostKey.GetBool())
	assert.Equal(t, "/tmp/hoptree_known_hosts", param.SSH_KnownHostsFile.GetString())
	assert.Equal(t, 2*time.Minute, param.Sftp_IdleTimeout.GetDuration())
	assert.Equal(t, []string{"http://localhost:3000"}, param.Server_AllowedOrigins.GetStringSlice())
}

func TestInitConfigExplicitFileMissing(t *testing.T) {
	resetConfig(t)
	viper.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	err := InitConfigInternal(viper.GetViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestInitConfigDebug(t *testing.T) {
	resetConfig(t)
	viper.Set("Debug", true)

	require.NoError(t, InitConfigInternal(viper.GetViper()))
	assert.Equal(t, "debug", param.Logging_Level.GetString())
	assert.Equal(t, log.DebugLevel, GetEffectiveLogLevel())
}

func TestInitConfigBadLevel(t *testing.T) {
	resetConfig(t)
	t.Setenv("HOPTREE_LOGGING_LEVEL", "chatty")

	err := InitConfigInternal(viper.GetViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid Logging.Level")
}
