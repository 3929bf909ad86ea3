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

// Package mailbox owns a device's view of the swarm: which neighbors are
// currently reachable and the latest message received from each of them.
//
// Freshness is evaluated lazily. A neighbor or message older than the
// retention window is invisible to every read even if it is still stored;
// Purge only reclaims memory.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/wso2/api-platform/swarm-mailbox/internal/discovery"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

type Mailbox struct {
	self       core.DeviceID
	retention  time.Duration
	heartbeat  time.Duration
	topics     discovery.Topics
	bufferSize int
	now        func() time.Time
	logger     *slog.Logger

	mu        sync.RWMutex
	neighbors map[core.DeviceID]time.Time
	inbox     map[core.DeviceID]core.InboundMessage
	closed    bool

	inbound chan struct{}
	done    chan struct{}

	transport core.Transport
	channel   *discovery.Channel
	tasks     conc.WaitGroup
	taskCtx   context.Context
	cancel    context.CancelFunc

	sent         atomic.Uint64
	sendFailures atomic.Uint64
	delivered    atomic.Uint64
}

// New returns a mailbox that is not attached to any transport. Sends are
// dropped; AddNeighbor and Deliver must be called directly.
func New(self core.DeviceID, logger *slog.Logger, opts ...Option) *Mailbox {
	m := &Mailbox{
		self:       self,
		retention:  discovery.DefaultRetention,
		heartbeat:  discovery.DefaultHeartbeat,
		topics:     discovery.NewTopics(""),
		bufferSize: discovery.DefaultBufferSize,
		now:        time.Now,
		logger:     logger.With("device_id", int(self)),
		neighbors:  make(map[core.DeviceID]time.Time),
		inbox:      make(map[core.DeviceID]core.InboundMessage),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.inbound = make(chan struct{}, m.bufferSize)
	m.taskCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Open connects transport and starts the discovery tasks: the beacon
// publisher and the presence and mail listeners. If any step fails the
// transport is disconnected and the error returned.
func Open(
	ctx context.Context,
	self core.DeviceID,
	transport core.Transport,
	codec core.Codec,
	logger *slog.Logger,
	opts ...Option,
) (*Mailbox, error) {
	m := New(self, logger, opts...)

	ch, err := discovery.New(transport, codec, m, discovery.Config{
		Heartbeat:  m.heartbeat,
		Retention:  m.retention,
		Topics:     m.topics,
		BufferSize: m.bufferSize,
	}, m.logger.With("component", "discovery"))
	if err != nil {
		m.cancel()
		return nil, err
	}

	if err := transport.Connect(ctx); err != nil {
		m.cancel()
		return nil, fmt.Errorf("device %d connect: %w", int(self), err)
	}
	if err := ch.Subscribe(ctx); err != nil {
		m.cancel()
		if derr := transport.Disconnect(context.Background()); derr != nil {
			m.logger.Warn("disconnect after failed subscribe", "error", derr)
		}
		return nil, fmt.Errorf("device %d subscribe: %w", int(self), err)
	}

	m.transport = transport
	m.channel = ch
	m.tasks.Go(func() { ch.ListenPresence(m.taskCtx) })
	m.tasks.Go(func() { ch.ListenMail(m.taskCtx) })
	m.tasks.Go(func() { ch.Beacon(m.taskCtx) })

	m.logger.Info("mailbox opened", "transport", transport.Name(), "codec", codec.Name(),
		"retention", m.retention, "heartbeat", m.heartbeat)
	return m, nil
}

func (m *Mailbox) Self() core.DeviceID { return m.self }

func (m *Mailbox) Retention() time.Duration { return m.retention }

// AddNeighbor marks id as present now. Calls for the mailbox's own id are
// ignored.
func (m *Mailbox) AddNeighbor(id core.DeviceID) {
	if id == m.self {
		return
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, known := m.neighbors[id]; !known || !m.fresh(m.neighbors[id], now) {
		m.logger.Debug("neighbor registered", "neighbor", int(id))
	}
	m.neighbors[id] = now
}

// Deliver stores msg as the latest message from its sender, replacing any
// earlier one, and queues one inbound event.
func (m *Mailbox) Deliver(msg core.InboundMessage) {
	msg.ReceivedAt = m.now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.inbox[msg.Sender] = msg
	m.mu.Unlock()

	m.delivered.Add(1)
	select {
	case m.inbound <- struct{}{}:
	default:
	}
}

func (m *Mailbox) fresh(seen, now time.Time) bool {
	return now.Sub(seen) <= m.retention
}

// Neighbors returns the ids refreshed within the retention window, in
// ascending order.
func (m *Mailbox) Neighbors() []core.DeviceID {
	now := m.now()
	m.mu.RLock()
	ids := make([]core.DeviceID, 0, len(m.neighbors))
	for id, seen := range m.neighbors {
		if m.fresh(seen, now) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Mailbox) IsNeighbor(id core.DeviceID) bool {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen, ok := m.neighbors[id]
	return ok && m.fresh(seen, now)
}

// Messages returns the payload of the latest fresh message per sender.
func (m *Mailbox) Messages() map[core.DeviceID][]byte {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[core.DeviceID][]byte, len(m.inbox))
	for id, msg := range m.inbox {
		if m.fresh(msg.ReceivedAt, now) {
			out[id] = msg.Payload
		}
	}
	return out
}

// Purge drops stale entries and reports how many were removed.
func (m *Mailbox) Purge() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, seen := range m.neighbors {
		if !m.fresh(seen, now) {
			delete(m.neighbors, id)
			removed++
		}
	}
	for id, msg := range m.inbox {
		if !m.fresh(msg.ReceivedAt, now) {
			delete(m.inbox, id)
			removed++
		}
	}
	return removed
}

// Inbound yields one event per Deliver. At most the buffer size of events
// are kept pending; deliveries beyond that only update the inbox.
func (m *Mailbox) Inbound() <-chan struct{} { return m.inbound }

// Send hands payload to the transport for target. Delivery is best effort:
// an unknown target or a transport failure is logged and dropped. The only
// error returned is core.ErrMailboxClosed.
func (m *Mailbox) Send(target core.DeviceID, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return core.ErrMailboxClosed
	}

	if seen, ok := m.neighbors[target]; !ok || !m.fresh(seen, m.now()) {
		m.logger.Warn("dropping message for unknown neighbor", "target", int(target))
		m.sendFailures.Add(1)
		return nil
	}
	if m.channel == nil {
		m.logger.Debug("mailbox has no transport, dropping message", "target", int(target))
		return nil
	}

	ch := m.channel
	m.tasks.Go(func() {
		if err := ch.Send(m.taskCtx, target, payload); err != nil {
			if m.taskCtx.Err() != nil {
				return
			}
			m.sendFailures.Add(1)
			m.logger.Error("send failed", "target", int(target), "error", err)
			return
		}
		m.sent.Add(1)
		m.logger.Debug("message sent", "target", int(target))
	})
	return nil
}

// Close stops the beacon, the listeners and any pending sends, waits for
// them, then disconnects the transport. It must be called at most once; a
// second call returns core.ErrMailboxClosed without side effects.
func (m *Mailbox) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrMailboxClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	if r := m.tasks.WaitAndRecover(); r != nil {
		m.logger.Error("mailbox task panic recovered", "error", r.Value, "stack", string(r.Stack))
	}

	var err error
	if m.transport != nil {
		if err = m.transport.Disconnect(ctx); err != nil {
			m.logger.Warn("transport disconnect failed", "error", err)
		}
	}
	m.logger.Info("mailbox closed")
	close(m.done)
	return err
}

func (m *Mailbox) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Done is closed once Close has finished.
func (m *Mailbox) Done() <-chan struct{} { return m.done }

type Stats struct {
	Sent         uint64 `json:"sent"`
	SendFailures uint64 `json:"send_failures"`
	Delivered    uint64 `json:"delivered"`
	Beacons      uint64 `json:"beacons"`
	DecodeErrors uint64 `json:"decode_errors"`
	Dropped      uint64 `json:"dropped"`
}

func (m *Mailbox) Stats() Stats {
	s := Stats{
		Sent:         m.sent.Load(),
		SendFailures: m.sendFailures.Load(),
		Delivered:    m.delivered.Load(),
	}
	if m.channel != nil {
		s.Beacons = m.channel.Beacons()
		s.DecodeErrors = m.channel.DecodeErrors()
		s.Dropped = m.channel.Dropped()
	}
	return s
}

var _ core.Membership = (*Mailbox)(nil)
