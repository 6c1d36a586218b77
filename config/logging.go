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
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/hoptree/hoptree/param"
)

type (
	RegexpFilter struct {
		Regexp *regexp.Regexp
		Name   string
		Fire   func(*log.Entry) error
	}

	// A logrus hook that carries a list of regexp-based "filters".
	// If any of the filters matches the incoming log line, the corresponding
	// callback is invoked.  Filters may rewrite the entry in place; logrus
	// fires hooks before the entry is formatted.
	RegexpFilterHook struct {
		filters atomic.Pointer[[]*RegexpFilter]
	}
)

const redacted = "REDACTED"

var (
	globalFilters      RegexpFilterHook
	addFiltersOnce     sync.Once
	loggingCallbackKey = "logging-level"

	// Field names whose values never reach the log output
	secretFieldNames = []string{"password", "passphrase", "keypassphrase", "secret"}

	pemBlockRegexp   = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
	passwordKVRegexp = regexp.MustCompile(`(?i)\b(password|passphrase)(\s*[=:]\s*)("[^"]*"|\S+)`)
)

func (fh *RegexpFilterHook) Levels() []log.Level {
	return log.AllLevels
}

// Process a single log entry coming from logrus; iterate through the
// internal list of regexp filters and invoke any callbacks for regexps
// that match the entry.Message.
func (fh *RegexpFilterHook) Fire(entry *log.Entry) (err error) {
	redactFields(entry)

	filters := fh.filters.Load()
	if filters == nil {
		return
	}
	for _, filter := range *filters {
		if filter.Regexp.MatchString(entry.Message) {
			curErr := filter.Fire(entry)
			if curErr != nil && err == nil {
				err = curErr
			}
		}
	}
	return
}

func redactFields(entry *log.Entry) {
	if len(entry.Data) == 0 {
		return
	}
	var data log.Fields
	for key, val := range entry.Data {
		if !isSecretField(key) {
			continue
		}
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		// Data may be shared with the parent entry, so copy before rewriting
		if data == nil {
			data = make(log.Fields, len(entry.Data))
			for k, v := range entry.Data {
				data[k] = v
			}
		}
		data[key] = redacted
	}
	if data != nil {
		entry.Data = data
	}
}

func isSecretField(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range secretFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// redactionFilters scrub private key blocks and password assignments from
// log messages; error strings from the ssh layer may carry either.
func redactionFilters() []*RegexpFilter {
	return []*RegexpFilter{
		{
			Name:   "private-key",
			Regexp: pemBlockRegexp,
			Fire: func(entry *log.Entry) error {
				entry.Message = pemBlockRegexp.ReplaceAllString(entry.Message, redacted)
				return nil
			},
		},
		{
			Name:   "password",
			Regexp: passwordKVRegexp,
			Fire: func(entry *log.Entry) error {
				entry.Message = passwordKVRegexp.ReplaceAllString(entry.Message, "${1}${2}"+redacted)
				return nil
			},
		},
	}
}

func initFilterLogging() {
	// Unit tests may initialize the config multiple times; avoid adding
	// the global hook multiple times
	addFiltersOnce.Do(func() {
		filters := redactionFilters()
		globalFilters.filters.Store(&filters)
		log.AddHook(&globalFilters)
	})
}

func AddFilter(newFilter *RegexpFilter) {
	filters := globalFilters.filters.Load()
	var newFilters []*RegexpFilter
	if filters != nil {
		newFilters = append(newFilters, *filters...)
	}
	newFilters = append(newFilters, newFilter)
	globalFilters.filters.Store(&newFilters)
}

func RemoveFilter(name string) {
	filters := globalFilters.filters.Load()
	if filters == nil {
		return
	}
	result := make([]*RegexpFilter, 0, len(*filters))
	for _, filter := range *filters {
		if filter.Name != name {
			result = append(result, filter)
		}
	}
	globalFilters.filters.Store(&result)
}

// RegisterLoggingCallback keeps the logrus level in step with Logging.Level
// whenever the param snapshot changes.
func RegisterLoggingCallback() {
	param.RegisterCallback(loggingCallbackKey, func(oldConfig, newConfig *param.Config) {
		if newConfig == nil {
			return
		}
		if oldConfig != nil && oldConfig.Logging.Level == newConfig.Logging.Level {
			return
		}
		if err := setLogLevel(newConfig.Logging.Level); err != nil {
			log.Warningf("Ignoring log level change: %v", err)
		}
	})
}

// GetEffectiveLogLevel returns the level the global logger is filtering at
func GetEffectiveLogLevel() log.Level {
	return log.GetLevel()
}
