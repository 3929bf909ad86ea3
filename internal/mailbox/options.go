// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package mailbox

import (
	"time"

	"github.com/wso2/api-platform/swarm-mailbox/internal/discovery"
)

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithRetention sets how long neighbors and messages stay visible after they
// were last refreshed. Zero or negative values are ignored.
func WithRetention(d time.Duration) Option {
	return func(m *Mailbox) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithHeartbeat sets the beacon period. Zero or negative values are ignored.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Mailbox) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

func WithTopicPrefix(prefix string) Option {
	return func(m *Mailbox) {
		m.topics = discovery.NewTopics(prefix)
	}
}

// WithBufferSize bounds the per-subscription delivery queues and the number
// of pending inbound events.
func WithBufferSize(n int) Option {
	return func(m *Mailbox) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithClock replaces time.Now, for tests that need to move time by hand.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) {
		if now != nil {
			m.now = now
		}
	}
}
