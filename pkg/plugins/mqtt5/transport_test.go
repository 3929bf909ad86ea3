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

package mqtt5

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

func testTransport(t *testing.T) *Transport {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tr, err := New(2, map[string]string{"broker": "mqtt://127.0.0.1:1"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tr.(*Transport)
}

func TestNotConnected(t *testing.T) {
	tr := testTransport(t)
	ctx := context.Background()
	if err := tr.Publish(ctx, "drone/2", nil, false); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.Subscribe(ctx, "drone/+", func(core.Message) {}); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect without connect: %v", err)
	}
}

func TestDispatchMatchesPatterns(t *testing.T) {
	tr := testTransport(t)

	var mu sync.Mutex
	got := map[string]int{}
	tr.routes = []route{
		{pattern: "drone/+", handler: func(m core.Message) { mu.Lock(); got["presence"]++; mu.Unlock() }},
		{pattern: "drone/2/neighbors", handler: func(m core.Message) { mu.Lock(); got["mail"]++; mu.Unlock() }},
	}

	tr.dispatch("drone/5", nil)
	tr.dispatch("drone/2/neighbors", []byte("x"))
	tr.dispatch("drone/3/neighbors", []byte("y"))

	if got["presence"] != 1 || got["mail"] != 1 {
		t.Fatalf("unexpected dispatch counts %v", got)
	}

	tr.removeRoute("drone/+")
	tr.dispatch("drone/5", nil)
	if got["presence"] != 1 {
		t.Fatalf("expected removed route not to fire, got %v", got)
	}
}

func TestNewDefaultBroker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tr, err := New(1, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.(*Transport).brokerURL != defaultBrokerURL {
		t.Fatalf("expected default broker, got %s", tr.(*Transport).brokerURL)
	}
}

func TestConnectionLostStopsManager(t *testing.T) {
	tr := testTransport(t)
	tr.connectionLost(errors.New("before connect"))

	u, _ := url.Parse(tr.brokerURL)
	cm, err := autopaho.NewConnection(context.Background(), autopaho.ClientConfig{
		ServerUrls:   []*url.URL{u},
		ClientConfig: paho.ClientConfig{ClientID: tr.clientID},
	})
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	tr.cm = cm

	tr.connectionLost(errors.New("network reset"))

	if err := tr.Publish(context.Background(), "drone/2", nil, false); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after loss, got %v", err)
	}
	select {
	case <-cm.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("expected connection manager to be stopped")
	}
	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect after loss: %v", err)
	}
}
