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
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	require.NoError(t, Set("Session.Term", "vt100"))
	assert.Equal(t, "vt100", viper.GetString("Session.Term"))

	config, err := GetUnmarshaledConfig()
	require.NoError(t, err)
	assert.Equal(t, "vt100", config.Session.Term)
	assert.Equal(t, "vt100", Session_Term.GetString())
}

func TestMultiSet(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	err := MultiSet(map[string]interface{}{
		"SSH.HopTimeout":     "45s",
		"SSH.AutoAddHostKey": true,
		"Sftp.MaxPacketSize": "65536",
	})
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, SSH_HopTimeout.GetDuration())
	assert.True(t, SSH_AutoAddHostKey.GetBool())
	assert.Equal(t, 65536, Sftp_MaxPacketSize.GetInt())
}

func TestReset(t *testing.T) {
	viper.Set("Session.Term", "dumb")
	require.NoError(t, Reset())

	assert.Empty(t, viper.GetString("Session.Term"))
	assert.Nil(t, viperConfig.Load())
}

func TestConcurrentSetAndGet(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			_ = Set("Server.WebPort", val)
			_ = Server_WebPort.GetInt()
		}(i)
	}
	wg.Wait()

	config, err := GetUnmarshaledConfig()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, config.Server.WebPort, 0)
}

func TestDecodeConfigDoesNotMutateAtomicConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("Server.WebPort", 9000)
	_, err := Refresh()
	require.NoError(t, err)

	local := viper.New()
	local.Set("Server.WebPort", 1234)
	decoded, err := DecodeConfig(local)
	require.NoError(t, err)
	assert.Equal(t, 1234, decoded.Server.WebPort)

	stored, err := GetUnmarshaledConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, stored.Server.WebPort)
}

func TestAccessorFunctionsWithNoConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viperConfig.Store(nil)

	viper.Set("Inventory.File", "/tmp/inventory.yaml")
	viper.SetDefault("Sftp.IdleTimeout", 5*time.Minute)

	// getOrCreateConfig decodes on first use
	assert.Equal(t, "/tmp/inventory.yaml", Inventory_File.GetString())
	assert.Equal(t, 5*time.Minute, Sftp_IdleTimeout.GetDuration())
	require.NotNil(t, viperConfig.Load())
}

func TestCallbackWithConfigChanges(t *testing.T) {
	require.NoError(t, Reset())
	defer func() {
		ClearCallbacks()
		require.NoError(t, Reset())
	}()

	type change struct{ old, new *Config }
	changes := make(chan change, 2)
	RegisterCallback("test", func(oldConfig, newConfig *Config) {
		changes <- change{oldConfig, newConfig}
	})

	require.NoError(t, Set(Logging_Level.GetName(), "info"))
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("First callback was not invoked")
	}

	require.NoError(t, Set(Logging_Level.GetName(), "debug"))
	select {
	case c := <-changes:
		require.NotNil(t, c.old)
		assert.Equal(t, "info", c.old.Logging.Level)
		assert.Equal(t, "debug", c.new.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("Second callback was not invoked")
	}
}

func TestStringToSliceHookFunc(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "comma-separated", input: "a,b,c", expected: []string{"a", "b", "c"}},
		{name: "comma-separated-with-spaces", input: "a, b, c", expected: []string{"a", "b", "c"}},
		{name: "whitespace-separated", input: "a b c", expected: []string{"a", "b", "c"}},
		{name: "newline-separated", input: "a\nb\nc", expected: []string{"a", "b", "c"}},
		{name: "origins", input: "https://a.example.org https://b.example.org", expected: []string{"https://a.example.org", "https://b.example.org"}},
		{name: "empty-string", input: "", expected: []string{}},
		{name: "quoted", input: `"a","b"`, expected: []string{"a", "b"}},
		{name: "empty-elements", input: "a,,b,", expected: []string{"a", "b"}},
	}

	hook := stringToSliceHookFunc().(func(reflect.Kind, reflect.Kind, interface{}) (interface{}, error))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := hook(reflect.String, reflect.Slice, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}

	// Non string-to-slice conversions are passed through
	result, err := hook(reflect.Int, reflect.Slice, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestAllowedOriginsFromString(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	require.NoError(t, Set("Server.AllowedOrigins", "http://localhost:3000, https://ui.example.org"))
	assert.Equal(t, []string{"http://localhost:3000", "https://ui.example.org"}, Server_AllowedOrigins.GetStringSlice())
}
