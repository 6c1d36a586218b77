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
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	viperConfig atomic.Pointer[Config]
	configMutex sync.Mutex
	callbacks   map[string]ConfigCallback
	callbackMux sync.RWMutex
)

// ConfigCallback is a function that is called when configuration changes.
// It receives the old and new configuration.
type ConfigCallback func(oldConfig, newConfig *Config)

func init() {
	callbacks = make(map[string]ConfigCallback)
}

// Refresh reloads the atomic cached configuration from viper's *global* instance.
//
// The param accessors read from an atomic cached `Config` struct. Code that
// mutates configuration via global viper APIs (SetDefault, Set, ReadConfig,
// etc.) should call Refresh afterwards to keep the getters consistent.
func Refresh() (*Config, error) {
	configMutex.Lock()
	defer configMutex.Unlock()
	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	storeAndNotify(newConfig)
	return newConfig, nil
}

// BindAllParameters binds all known configuration keys to environment variables.
//
// AutomaticEnv lets env vars override Get* calls, but AllSettings (which the
// snapshot is decoded from) only includes env-only values for bound keys.
func BindAllParameters(v *viper.Viper) {
	if v == nil {
		return
	}
	for _, key := range allParameterNames {
		_ = v.BindEnv(key)
	}
}

// stringToSliceHookFunc converts strings to slices by splitting on commas,
// or on whitespace when there are no commas. Surrounding quotes are trimmed
// from the whole string and from each element; empty elements are dropped.
func stringToSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
		if f != reflect.String || t != reflect.Slice {
			return data, nil
		}

		raw := strings.Trim(data.(string), `"'`)
		if raw == "" {
			return []string{}, nil
		}

		var parts []string
		if strings.Contains(raw, ",") {
			parts = strings.Split(raw, ",")
		} else {
			parts = strings.Fields(raw)
		}
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result, nil
	}
}

func newDecoder(result *Config) (*mapstructure.Decoder, error) {
	return mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToSliceHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
		Result: result,
	})
}

// DecodeConfig decodes the provided viper instance into a new Config struct
// without touching the global cache.
func DecodeConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("nil viper instance")
	}
	BindAllParameters(v)
	settings := v.AllSettings()
	mergeKnownKeyOverrides(settings, v)

	newConfig := new(Config)
	decoder, err := newDecoder(newConfig)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return newConfig, nil
}

// mergeKnownKeyOverrides overlays every known key from v.Get, since
// AllSettings may omit values that only come from flag bindings.
func mergeKnownKeyOverrides(settings map[string]any, v *viper.Viper) {
	for _, key := range allParameterNames {
		val := v.Get(key)
		if val == nil {
			continue
		}
		setLowercasePath(settings, strings.Split(key, "."), val)
	}
}

func setLowercasePath(root map[string]any, path []string, val any) {
	if len(path) == 0 {
		return
	}
	m := root
	for i := range len(path) - 1 {
		k := strings.ToLower(path[i])
		if nextAny, ok := m[k]; ok {
			if nextMap, ok := nextAny.(map[string]any); ok {
				m = nextMap
				continue
			}
		}
		next := make(map[string]any)
		m[k] = next
		m = next
	}
	m[strings.ToLower(path[len(path)-1])] = val
}

// GetUnmarshaledConfig returns the cached config snapshot
func GetUnmarshaledConfig() (*Config, error) {
	config := viperConfig.Load()
	if config == nil {
		return nil, errors.New("Config hasn't been unmarshaled yet.")
	}
	return config, nil
}

// getOrCreateConfig returns the current snapshot, decoding one from viper
// on first use.
func getOrCreateConfig() *Config {
	if config := viperConfig.Load(); config != nil {
		return config
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	if config := viperConfig.Load(); config != nil {
		return config
	}

	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return new(Config)
	}
	viperConfig.Store(newConfig)
	return newConfig
}

// Set sets a parameter value in both viper and the config struct.
func Set(key string, value interface{}) error {
	return MultiSet(map[string]interface{}{key: value})
}

// MultiSet sets multiple parameter values in viper and decodes the snapshot
// once.
func MultiSet(keyValues map[string]interface{}) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	for key, value := range keyValues {
		viper.Set(key, value)
	}
	newConfig, err := DecodeConfig(viper.GetViper())
	if err != nil {
		return err
	}
	storeAndNotify(newConfig)
	return nil
}

// Reset resets the viper configuration and clears the cached snapshot.
func Reset() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	viper.Reset()
	viperConfig.Store(nil)
	return nil
}

// RegisterCallback registers a callback invoked whenever the configuration is
// updated. A callback registered under an existing key replaces it.
func RegisterCallback(key string, cb ConfigCallback) {
	callbackMux.Lock()
	defer callbackMux.Unlock()
	callbacks[key] = cb
}

// ClearCallbacks clears all registered callbacks; meant for tests.
func ClearCallbacks() {
	callbackMux.Lock()
	defer callbackMux.Unlock()
	callbacks = make(map[string]ConfigCallback)
}

// storeAndNotify must be called while holding configMutex.
func storeAndNotify(newConfig *Config) {
	oldConfig := viperConfig.Load()
	viperConfig.Store(newConfig)

	callbackMux.RLock()
	defer callbackMux.RUnlock()
	for _, cb := range callbacks {
		// Callbacks must not block config updates
		go cb(oldConfig, newConfig)
	}
}
