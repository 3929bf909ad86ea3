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

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const defaultAddr = "localhost:6379"

// Transport maps topics onto Redis pub/sub channels. Wildcard patterns use
// PSUBSCRIBE; since a Redis glob '*' also spans '/', deliveries are filtered
// again with the MQTT matching rules.
type Transport struct {
	name     string
	addr     string
	password string
	db       int
	client   *redis.Client
	logger   *slog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

func New(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error) {
	addr := cfg["addr"]
	if addr == "" {
		addr = defaultAddr
	}
	db := 0
	if s := cfg["db"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", s, err)
		}
		db = n
	}
	return &Transport{
		name:     fmt.Sprintf("redis-%d", int(id)),
		addr:     addr,
		password: cfg["password"],
		db:       db,
		logger:   logger,
	}, nil
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "redis" }

func (t *Transport) Connect(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     t.addr,
		Password: t.password,
		DB:       t.db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis connection failed: %w", err)
	}
	t.client = client
	t.logger.Info("redis transport connected", "name", t.name, "addr", t.addr)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, reliable bool) error {
	if t.client == nil {
		return core.ErrNotConnected
	}
	return t.client.Publish(ctx, topic, payload).Err()
}

// GlobPattern converts an MQTT style pattern into a Redis glob.
func GlobPattern(pattern string) (glob string, wildcard bool) {
	levels := strings.Split(pattern, "/")
	for i, l := range levels {
		switch l {
		case "+", "#":
			levels[i] = "*"
			wildcard = true
		}
	}
	return strings.Join(levels, "/"), wildcard
}

func (t *Transport) Subscribe(ctx context.Context, pattern string, handler core.MessageHandler) error {
	if t.client == nil {
		return core.ErrNotConnected
	}

	glob, wildcard := GlobPattern(pattern)
	var ps *redis.PubSub
	if wildcard {
		ps = t.client.PSubscribe(ctx, glob)
	} else {
		ps = t.client.Subscribe(ctx, pattern)
	}
	// wait for the subscription to be confirmed before returning
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", pattern, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, ps)
	t.mu.Unlock()

	ch := ps.Channel()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for msg := range ch {
			if !core.MatchTopic(pattern, msg.Channel) {
				continue
			}
			handler(core.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}()
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			t.logger.Warn("redis pubsub close failed", "name", t.name, "error", err)
		}
	}
	t.wg.Wait()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.logger.Info("redis transport disconnected", "name", t.name)
	return err
}

var _ core.Transport = (*Transport)(nil)
