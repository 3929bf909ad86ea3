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

// Package monitor exposes the rounds reported by a running swarm over HTTP:
// a snapshot of the latest round per device, a server-sent event stream and
// a websocket stream.
package monitor

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const DefaultSubscriberBuffer = 64

// Hub keeps the latest round per device and fans every report out to the
// connected stream subscribers. Slow subscribers lose results rather than
// stalling drivers.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	latest map[core.DeviceID]core.RoundResult

	subscribers sync.Map
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		buffer: DefaultSubscriberBuffer,
		latest: make(map[core.DeviceID]core.RoundResult),
	}
}

func (h *Hub) Report(r core.RoundResult) {
	if r.Err != nil && r.Error == "" {
		r.Error = r.Err.Error()
	}
	h.mu.Lock()
	h.latest[r.Device] = r
	h.mu.Unlock()

	h.subscribers.Range(func(key, val any) bool {
		select {
		case val.(chan core.RoundResult) <- r:
		default:
			h.logger.Warn("monitor subscriber lagging, dropping round", "subscriber_id", key, "device_id", int(r.Device))
		}
		return true
	})
}

// Latest returns the most recent round of every device, ordered by device.
func (h *Hub) Latest() []core.RoundResult {
	h.mu.RLock()
	out := make([]core.RoundResult, 0, len(h.latest))
	for _, r := range h.latest {
		out = append(out, r)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

func (h *Hub) LatestFor(id core.DeviceID) (core.RoundResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.latest[id]
	return r, ok
}

// Subscribe registers a stream consumer. The returned cancel func must be
// called once the consumer goes away.
func (h *Hub) Subscribe() (string, <-chan core.RoundResult, func()) {
	id := uuid.New().String()
	ch := make(chan core.RoundResult, h.buffer)
	h.subscribers.Store(id, ch)
	h.logger.Debug("monitor subscriber added", "subscriber_id", id)
	return id, ch, func() {
		h.subscribers.Delete(id)
		h.logger.Debug("monitor subscriber removed", "subscriber_id", id)
	}
}

func (h *Hub) Subscribers() int {
	n := 0
	h.subscribers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

var _ core.Reporter = (*Hub)(nil)
