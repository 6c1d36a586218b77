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

package metrics

import (
	"errors"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestSlowOperationThreshold verifies the slow operation threshold is set correctly
func TestSlowOperationThreshold(t *testing.T) {
	assert.Equal(t, 2*time.Second, SlowOperationThreshold, "Slow operation threshold should be 2 seconds")
}

func TestSftpOperationTracker(t *testing.T) {
	initialOK := promtest.ToFloat64(SftpOperationsTotal.WithLabelValues(ResultSuccess))
	initialFailed := promtest.ToFloat64(SftpOperationsTotal.WithLabelValues(ResultFailure))
	initialSlow := promtest.ToFloat64(SftpSlowOperationsTotal)

	tracker := NewSftpOperationTracker()
	time.Sleep(10 * time.Millisecond)
	elapsed := tracker.Complete(nil)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)

	NewSftpOperationTracker().Complete(errors.New("permission denied"))

	assert.Equal(t, initialOK+1, promtest.ToFloat64(SftpOperationsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, initialFailed+1, promtest.ToFloat64(SftpOperationsTotal.WithLabelValues(ResultFailure)))
	assert.Equal(t, initialSlow, promtest.ToFloat64(SftpSlowOperationsTotal), "fast operations must not count as slow")
}

func TestSftpOperationTrackerSlowOps(t *testing.T) {
	initialSlow := promtest.ToFloat64(SftpSlowOperationsTotal)

	tracker := &SftpOperationTracker{startTime: time.Now().Add(-3 * time.Second)}
	tracker.Complete(nil)

	assert.Equal(t, initialSlow+1, promtest.ToFloat64(SftpSlowOperationsTotal))
}
