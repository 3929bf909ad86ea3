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

package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

func newTestTransport(t *testing.T, name string, b *Broker) *Transport {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tr := New(name, b, logger)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return tr
}

type recorder struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (r *recorder) handle(msg core.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestPublishMatchesWildcard(t *testing.T) {
	b := NewBroker()
	pub := newTestTransport(t, "a", b)
	sub := newTestTransport(t, "b", b)
	ctx := context.Background()

	presence := &recorder{}
	mail := &recorder{}
	if err := sub.Subscribe(ctx, "drone/+", presence.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Subscribe(ctx, "drone/2/neighbors", mail.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = pub.Publish(ctx, "drone/1", nil, false)
	_ = pub.Publish(ctx, "drone/2/neighbors", []byte("x"), true)
	_ = pub.Publish(ctx, "drone/3/neighbors", []byte("y"), true)

	if presence.count() != 1 {
		t.Fatalf("expected 1 presence message, got %d", presence.count())
	}
	if mail.count() != 1 {
		t.Fatalf("expected 1 mail message, got %d", mail.count())
	}
	if presence.msgs[0].Topic != "drone/1" {
		t.Fatalf("unexpected topic %s", presence.msgs[0].Topic)
	}
	if b.Published() != 3 {
		t.Fatalf("expected 3 published, got %d", b.Published())
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	b := NewBroker()
	pub := newTestTransport(t, "a", b)
	sub := newTestTransport(t, "b", b)
	ctx := context.Background()

	rec := &recorder{}
	_ = sub.Subscribe(ctx, "drone/+", rec.handle)
	if b.Subscriptions() != 1 {
		t.Fatalf("expected 1 subscription, got %d", b.Subscriptions())
	}

	_ = sub.Disconnect(ctx)
	if b.Subscriptions() != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", b.Subscriptions())
	}
	_ = pub.Publish(ctx, "drone/1", nil, false)
	if rec.count() != 0 {
		t.Fatalf("expected no deliveries after disconnect, got %d", rec.count())
	}

	if err := sub.Publish(ctx, "drone/2", nil, false); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := sub.Subscribe(ctx, "drone/+", rec.handle); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tr := New("a", NewBroker(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPayloadIsCopied(t *testing.T) {
	b := NewBroker()
	pub := newTestTransport(t, "a", b)
	sub := newTestTransport(t, "b", b)
	ctx := context.Background()

	rec := &recorder{}
	_ = sub.Subscribe(ctx, "drone/2/neighbors", rec.handle)
	payload := []byte("abc")
	_ = pub.Publish(ctx, "drone/2/neighbors", payload, true)
	payload[0] = 'z'

	if string(rec.msgs[0].Payload) != "abc" {
		t.Fatalf("expected delivered payload to be isolated, got %s", rec.msgs[0].Payload)
	}
}
