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

package param

import (
	"time"

	"github.com/spf13/viper"
)

type (
	// Config is the typed snapshot of every known parameter
	Config struct {
		Inventory struct {
			File string `mapstructure:"file"`
		} `mapstructure:"inventory"`
		Logging struct {
			Level       string `mapstructure:"level"`
			LogLocation string `mapstructure:"loglocation"`
		} `mapstructure:"logging"`
		SSH struct {
			ConnectTimeout    time.Duration `mapstructure:"connecttimeout"`
			HopTimeout        time.Duration `mapstructure:"hoptimeout"`
			KnownHostsFile    string        `mapstructure:"knownhostsfile"`
			AutoAddHostKey    bool          `mapstructure:"autoaddhostkey"`
			KeepaliveInterval time.Duration `mapstructure:"keepaliveinterval"`
		} `mapstructure:"ssh"`
		Session struct {
			LocalShell string `mapstructure:"localshell"`
			Term       string `mapstructure:"term"`
		} `mapstructure:"session"`
		Sftp struct {
			IdleTimeout   time.Duration `mapstructure:"idletimeout"`
			MaxPacketSize int           `mapstructure:"maxpacketsize"`
		} `mapstructure:"sftp"`
		Server struct {
			WebHost        string   `mapstructure:"webhost"`
			WebPort        int      `mapstructure:"webport"`
			AllowedOrigins []string `mapstructure:"allowedorigins"`
		} `mapstructure:"server"`
		Transport struct {
			DialerKeepAlive       time.Duration `mapstructure:"dialerkeepalive"`
			DialerTimeout         time.Duration `mapstructure:"dialertimeout"`
			ExpectContinueTimeout time.Duration `mapstructure:"expectcontinuetimeout"`
			IdleConnTimeout       time.Duration `mapstructure:"idleconntimeout"`
			MaxIdleConns          int           `mapstructure:"maxidleconns"`
			ResponseHeaderTimeout time.Duration `mapstructure:"responseheadertimeout"`
			TLSHandshakeTimeout   time.Duration `mapstructure:"tlshandshaketimeout"`
		} `mapstructure:"transport"`
	}

	StringParam struct {
		name string
		get  func(*Config) string
	}

	StringSliceParam struct {
		name string
		get  func(*Config) []string
	}

	BoolParam struct {
		name string
		get  func(*Config) bool
	}

	IntParam struct {
		name string
		get  func(*Config) int
	}

	DurationParam struct {
		name string
		get  func(*Config) time.Duration
	}
)

// allParameterNames must stay sorted; it is searched with sort.SearchStrings.
var allParameterNames = []string{
	"Inventory.File",
	"Logging.Level",
	"Logging.LogLocation",
	"SSH.AutoAddHostKey",
	"SSH.ConnectTimeout",
	"SSH.HopTimeout",
	"SSH.KeepaliveInterval",
	"SSH.KnownHostsFile",
	"Server.AllowedOrigins",
	"Server.WebHost",
	"Server.WebPort",
	"Session.LocalShell",
	"Session.Term",
	"Sftp.IdleTimeout",
	"Sftp.MaxPacketSize",
	"Transport.DialerKeepAlive",
	"Transport.DialerTimeout",
	"Transport.ExpectContinueTimeout",
	"Transport.IdleConnTimeout",
	"Transport.MaxIdleConns",
	"Transport.ResponseHeaderTimeout",
	"Transport.TLSHandshakeTimeout",
}

var (
	Inventory_File      = StringParam{"Inventory.File", func(c *Config) string { return c.Inventory.File }}
	Logging_Level       = StringParam{"Logging.Level", func(c *Config) string { return c.Logging.Level }}
	Logging_LogLocation = StringParam{"Logging.LogLocation", func(c *Config) string { return c.Logging.LogLocation }}

	SSH_ConnectTimeout    = DurationParam{"SSH.ConnectTimeout", func(c *Config) time.Duration { return c.SSH.ConnectTimeout }}
	SSH_HopTimeout        = DurationParam{"SSH.HopTimeout", func(c *Config) time.Duration { return c.SSH.HopTimeout }}
	SSH_KnownHostsFile    = StringParam{"SSH.KnownHostsFile", func(c *Config) string { return c.SSH.KnownHostsFile }}
	SSH_AutoAddHostKey    = BoolParam{"SSH.AutoAddHostKey", func(c *Config) bool { return c.SSH.AutoAddHostKey }}
	SSH_KeepaliveInterval = DurationParam{"SSH.KeepaliveInterval", func(c *Config) time.Duration { return c.SSH.KeepaliveInterval }}

	Session_LocalShell = StringParam{"Session.LocalShell", func(c *Config) string { return c.Session.LocalShell }}
	Session_Term       = StringParam{"Session.Term", func(c *Config) string { return c.Session.Term }}

	Sftp_IdleTimeout   = DurationParam{"Sftp.IdleTimeout", func(c *Config) time.Duration { return c.Sftp.IdleTimeout }}
	Sftp_MaxPacketSize = IntParam{"Sftp.MaxPacketSize", func(c *Config) int { return c.Sftp.MaxPacketSize }}

	Server_WebHost        = StringParam{"Server.WebHost", func(c *Config) string { return c.Server.WebHost }}
	Server_WebPort        = IntParam{"Server.WebPort", func(c *Config) int { return c.Server.WebPort }}
	Server_AllowedOrigins = StringSliceParam{"Server.AllowedOrigins", func(c *Config) []string { return c.Server.AllowedOrigins }}

	Transport_DialerKeepAlive       = DurationParam{"Transport.DialerKeepAlive", func(c *Config) time.Duration { return c.Transport.DialerKeepAlive }}
	Transport_DialerTimeout         = DurationParam{"Transport.DialerTimeout", func(c *Config) time.Duration { return c.Transport.DialerTimeout }}
	Transport_ExpectContinueTimeout = DurationParam{"Transport.ExpectContinueTimeout", func(c *Config) time.Duration { return c.Transport.ExpectContinueTimeout }}
	Transport_IdleConnTimeout       = DurationParam{"Transport.IdleConnTimeout", func(c *Config) time.Duration { return c.Transport.IdleConnTimeout }}
	Transport_MaxIdleConns          = IntParam{"Transport.MaxIdleConns", func(c *Config) int { return c.Transport.MaxIdleConns }}
	Transport_ResponseHeaderTimeout = DurationParam{"Transport.ResponseHeaderTimeout", func(c *Config) time.Duration { return c.Transport.ResponseHeaderTimeout }}
	Transport_TLSHandshakeTimeout   = DurationParam{"Transport.TLSHandshakeTimeout", func(c *Config) time.Duration { return c.Transport.TLSHandshakeTimeout }}
)

func (p StringParam) GetName() string { return p.name }
func (p StringParam) IsSet() bool { return viper.IsSet(p.name) }
func (p StringParam) GetString() string { return p.get(getOrCreateConfig()) }
func (p StringSliceParam) GetName() string { return p.name }
func (p StringSliceParam) IsSet() bool { return viper.IsSet(p.name) }
func (p StringSliceParam) GetStringSlice() []string {
	return p.get(getOrCreateConfig())
}
func (p BoolParam) GetName() string { return p.name }
func (p BoolParam) IsSet() bool { return viper.IsSet(p.name) }
func (p BoolParam) GetBool() bool { return p.get(getOrCreateConfig()) }
func (p IntParam) GetName() string { return p.name }
func (p IntParam) IsSet() bool { return viper.IsSet(p.name) }
func (p IntParam) GetInt() int { return p.get(getOrCreateConfig()) }
func (p DurationParam) GetName() string { return p.name }
func (p DurationParam) IsSet() bool { return viper.IsSet(p.name) }
func (p DurationParam) GetDuration() time.Duration {
	return p.get(getOrCreateConfig())
}
