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
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const defaultBrokerURL = "mqtt://test.mosquitto.org:1883"

type route struct {
	pattern string
	handler core.MessageHandler
}

// Transport is an MQTT 5 connection managed by autopaho. Incoming publishes
// are dispatched to every registered pattern that matches the topic. A lost
// connection is not re-established: the manager is stopped and further
// calls return core.ErrNotConnected.
type Transport struct {
	name      string
	brokerURL string
	clientID  string
	logger    *slog.Logger

	mu     sync.RWMutex
	cm     *autopaho.ConnectionManager
	routes []route
}

func New(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error) {
	brokerURL := cfg["broker"]
	if brokerURL == "" {
		brokerURL = defaultBrokerURL
	}
	if _, err := url.Parse(brokerURL); err != nil {
		return nil, fmt.Errorf("mqtt5 invalid URL: %w", err)
	}
	return &Transport{
		name:      fmt.Sprintf("mqtt5-%d", int(id)),
		brokerURL: brokerURL,
		clientID:  core.GenerateClientID(cfg["client_prefix"], id),
		logger:    logger,
	}, nil
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "mqtt5" }

func (t *Transport) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(t.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			t.logger.Info("mqtt5 connection up", "name", t.name)
		},
		OnConnectError: func(err error) {
			t.logger.Warn("mqtt5 connect error", "name", t.name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.clientID,
			OnServerDisconnect: func(d *paho.Disconnect) {
				t.connectionLost(fmt.Errorf("server disconnect, reason code %d", d.ReasonCode))
			},
			OnClientError: func(err error) {
				t.connectionLost(err)
			},
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// the manager outlives ctx; it is stopped by Disconnect
	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	if err := cm.AwaitConnection(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cm.Disconnect(stopCtx)
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}
	t.mu.Lock()
	t.cm = cm
	t.mu.Unlock()

	t.logger.Info("mqtt5 transport connected", "name", t.name, "broker", t.brokerURL)
	return nil
}

func (t *Transport) conn() *autopaho.ConnectionManager {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cm
}

// connectionLost stops the connection manager so autopaho does not
// reconnect behind the mailbox's back.
func (t *Transport) connectionLost(err error) {
	t.mu.Lock()
	cm := t.cm
	t.cm = nil
	t.mu.Unlock()
	if cm == nil {
		return
	}

	t.logger.Error("mqtt5 connection lost", "name", t.name, "error", err)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cm.Disconnect(ctx)
	}()
}

func (t *Transport) dispatch(topic string, payload []byte) {
	t.mu.RLock()
	matched := make([]core.MessageHandler, 0, len(t.routes))
	for _, r := range t.routes {
		if core.MatchTopic(r.pattern, topic) {
			matched = append(matched, r.handler)
		}
	}
	t.mu.RUnlock()

	for _, h := range matched {
		h(core.Message{Topic: topic, Payload: payload})
	}
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, reliable bool) error {
	cm := t.conn()
	if cm == nil {
		return core.ErrNotConnected
	}
	var qos byte
	if reliable {
		qos = 1
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Payload: payload,
	})
	return err
}

func (t *Transport) Subscribe(ctx context.Context, pattern string, handler core.MessageHandler) error {
	cm := t.conn()
	if cm == nil {
		return core.ErrNotConnected
	}

	t.mu.Lock()
	t.routes = append(t.routes, route{pattern: pattern, handler: handler})
	t.mu.Unlock()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: pattern, QoS: 1},
		},
	})
	if err != nil {
		t.removeRoute(pattern)
		return fmt.Errorf("mqtt5 subscribe: %w", err)
	}
	return nil
}

func (t *Transport) removeRoute(pattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.pattern != pattern {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cm := t.cm
	t.cm = nil
	t.routes = nil
	t.mu.Unlock()
	if cm != nil {
		return cm.Disconnect(ctx)
	}
	return nil
}

var _ core.Transport = (*Transport)(nil)
