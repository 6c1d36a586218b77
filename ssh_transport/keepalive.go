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

package ssh_transport

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// KeepaliveRequest is the global request OpenSSH answers with a failure
// reply; any reply at all proves the peer is alive.
const KeepaliveRequest = "keepalive@openssh.com"

// Keepalive pings client every interval until ctx is done. When a ping
// fails it calls onFail once and returns. A non-positive interval disables it.
func Keepalive(ctx context.Context, client Client, interval time.Duration, onFail func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest(KeepaliveRequest, true, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Debugf("SSH keepalive failed: %v", err)
				if onFail != nil {
					onFail(err)
				}
				return
			}
		}
	}
}
