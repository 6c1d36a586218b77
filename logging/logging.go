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

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log/term"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hoptree/hoptree/param"
)

// BufferedLogHook holds entries logged before the command line and config
// file are parsed, so they can be written once Logging.LogLocation is known.
type BufferedLogHook struct {
	mu      sync.Mutex
	entries []*log.Entry
	flushed atomic.Bool
}

// Global hook instance
var (
	bufferedHook atomic.Pointer[BufferedLogHook]
	flushOnce    sync.Once
	logFHandle   *os.File
)

// Reset function intended for unit tests to be able to
// reset log flush state.
func ResetLogFlush() {
	flushOnce = sync.Once{}
}

func NewBufferedLogHook() *BufferedLogHook {
	return &BufferedLogHook{
		entries: make([]*log.Entry, 0),
	}
}

// Fire is called on every log entry
func (hook *BufferedLogHook) Fire(entry *log.Entry) error {
	if hook.flushed.Load() {
		// Do not write to logger output
		return nil
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	hook.entries = append(hook.entries, entry)
	return nil
}

// Levels defines which log levels this hook applies to
func (hook *BufferedLogHook) Levels() []log.Level {
	return log.AllLevels
}

// removeBufferedHook drops the buffered hook after flushing while keeping
// every other hook (such as the redaction filters) installed.
func removeBufferedHook(hook *BufferedLogHook) {
	kept := make(log.LevelHooks)
	for level, hooks := range log.StandardLogger().Hooks {
		for _, h := range hooks {
			if h != hook {
				kept[level] = append(kept[level], h)
			}
		}
	}
	log.StandardLogger().ReplaceHooks(kept)
	bufferedHook.CompareAndSwap(hook, nil)
}

// FlushLogs flushes buffered logs and switches to direct logging
func FlushLogs(pushToFile bool) {
	flushOnce.Do(func() {
		hook := bufferedHook.Load()
		if hook == nil {
			fmt.Fprintln(os.Stderr, "FlushLogs called but no bufferedHook exists")
			return
		}

		if hook.flushed.Load() {
			return
		}

		hook.flushed.Store(true)

		logLocation := param.Logging_LogLocation.GetString()
		if pushToFile && logLocation != "" {
			dir := filepath.Dir(logLocation)
			if dir != "" {
				if err := os.MkdirAll(dir, 0750); err != nil {
					cobra.CheckErr(fmt.Errorf("failed to access/create specified directory: %w", err))
				}
			}

			f, err := os.OpenFile(logLocation, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to access specified log file: %w", err))
			}
			logFHandle = f
			fmt.Fprintf(os.Stderr, "Logging.LogLocation is set to %s; hoptree logs go to that file.\n", logLocation)
			log.SetOutput(f)

			// Disable colors for log files
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				DisableColors:          true,
				DisableLevelTruncation: true,
			})
		} else {
			log.SetOutput(os.Stderr)

			// Restore colorized output when logging to stderr
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp:          true,
				ForceColors:            term.IsTerminal(log.StandardLogger().Out),
				DisableColors:          false,
				DisableLevelTruncation: true,
			})
		}

		hook.mu.Lock()
		level := log.GetLevel()
		for _, entry := range hook.entries {
			if entry.Level > level {
				continue
			}
			formatted, err := entry.String()
			if err == nil {
				_, _ = log.StandardLogger().Out.Write([]byte(formatted))
			}
		}
		hook.entries = nil
		hook.mu.Unlock()

		removeBufferedHook(hook)

		if out, ok := log.StandardLogger().Out.(*os.File); ok {
			_ = out.Sync()
		}
	})
}

// For unit tests, guarantees the filehandle is closed so tests can clean up
// after themselves. Generally not needed in production code because the OS
// should clean up the file handle when the process exits. Invoking this outside
// a test will prevent the log file from being written to!!
func CloseLogger() {
	if logFHandle != nil {
		_ = logFHandle.Close()
	}
}

// SetupLogBuffering discards direct output and buffers every entry until
// FlushLogs runs.  Buffered entries above the level configured by then are
// dropped at flush.
func SetupLogBuffering() {
	log.SetOutput(io.Discard)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})

	hook := NewBufferedLogHook()
	if bufferedHook.CompareAndSwap(nil, hook) {
		log.AddHook(hook)
	}
}
