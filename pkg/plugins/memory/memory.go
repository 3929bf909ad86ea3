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

// Package memory is an in-process broker used for local runs and tests. All
// devices of a swarm share one Broker; each device gets its own Transport.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

type subscription struct {
	owner   *Transport
	pattern string
	handler core.MessageHandler
}

type Broker struct {
	mu   sync.RWMutex
	subs []*subscription
	// published counts every message accepted by the broker
	published int
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) publish(topic string, payload []byte) {
	b.mu.Lock()
	b.published++
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if core.MatchTopic(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	for _, s := range matched {
		if !s.owner.connected() {
			continue
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		s.handler(core.Message{Topic: topic, Payload: data})
	}
}

func (b *Broker) subscribe(s *subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

func (b *Broker) drop(owner *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.owner != owner {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = kept
}

// Published returns the number of messages published so far.
func (b *Broker) Published() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published
}

// Subscriptions returns the number of live subscriptions.
func (b *Broker) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type Transport struct {
	name   string
	broker *Broker
	logger *slog.Logger

	mu   sync.RWMutex
	live bool
}

func New(name string, broker *Broker, logger *slog.Logger) *Transport {
	return &Transport{name: name, broker: broker, logger: logger}
}

// Factory adapts a shared broker to the plugin registry.
func Factory(broker *Broker) func(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error) {
	return func(id core.DeviceID, _ map[string]string, logger *slog.Logger) (core.Transport, error) {
		return New(fmt.Sprintf("memory-%d", int(id)), broker, logger), nil
	}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "memory" }

func (t *Transport) connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.live = true
	t.mu.Unlock()
	t.logger.Debug("memory transport connected", "name", t.name)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, reliable bool) error {
	if !t.connected() {
		return core.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.broker.publish(topic, payload)
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, pattern string, handler core.MessageHandler) error {
	if !t.connected() {
		return core.ErrNotConnected
	}
	t.broker.subscribe(&subscription{owner: t, pattern: pattern, handler: handler})
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	t.broker.drop(t)
	t.logger.Debug("memory transport disconnected", "name", t.name)
	return nil
}
