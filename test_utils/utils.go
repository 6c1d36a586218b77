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

package test_utils

import (
	"context"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hoptree/hoptree/config"
)

// testLogHook routes logrus entries through t.Log so they only show up
// for failing (or -v) tests.
type testLogHook struct {
	mu sync.Mutex
	t  testing.TB
}

func TestContext(ictx context.Context, t *testing.T) (ctx context.Context, cancel context.CancelFunc, egrp *errgroup.Group) {
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ictx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ictx)
	}
	egrp, ctx = errgroup.WithContext(ctx)
	ctx = context.WithValue(ctx, config.EgrpKey, egrp)
	return
}

func (h *testLogHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *testLogHook) Fire(entry *log.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.t.Helper()
	h.t.Log(line)
	return nil
}

// SetupTestLogging sends the global logger's output to t.Log for the
// duration of a test.  The returned func restores the previous output and
// hooks.
func SetupTestLogging(t testing.TB) func() {
	logger := log.StandardLogger()
	origOut := logger.Out
	origHooks := logger.ReplaceHooks(make(log.LevelHooks))

	logger.SetOutput(io.Discard)
	logger.AddHook(&testLogHook{t: t})

	return func() {
		logger.SetOutput(origOut)
		logger.ReplaceHooks(origHooks)
	}
}
