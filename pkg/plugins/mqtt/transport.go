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

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const (
	defaultBroker       = "tcp://test.mosquitto.org:1883"
	disconnectQuiesceMs = 250
)

// Transport is an MQTT 3.1.1 connection owned by a single device. It does
// not reconnect on its own; a lost connection is logged and the mailbox is
// expected to be rebuilt by its owner.
type Transport struct {
	name     string
	broker   string
	clientID string
	username string
	password string
	logger   *slog.Logger

	mu     sync.RWMutex
	client mqtt.Client
}

func New(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error) {
	broker := cfg["broker"]
	if broker == "" {
		broker = defaultBroker
	}
	return &Transport{
		name:     fmt.Sprintf("mqtt-%d", int(id)),
		broker:   broker,
		clientID: core.GenerateClientID(cfg["client_prefix"], id),
		username: cfg["username"],
		password: cfg["password"],
		logger:   logger,
	}, nil
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "mqtt" }

func (t *Transport) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(t.broker).
		SetClientID(t.clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			t.logger.Warn("mqtt connection lost", "name", t.name, "error", err)
		})
	if t.username != "" {
		opts.SetUsername(t.username).SetPassword(t.password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.broker, err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("mqtt transport connected", "name", t.name, "broker", t.broker, "client_id", t.clientID)
	return nil
}

func (t *Transport) current() (mqtt.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil, core.ErrNotConnected
	}
	return t.client, nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, reliable bool) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	var qos byte
	if reliable {
		qos = 1
	}
	if err := wait(ctx, client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, pattern string, handler core.MessageHandler) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	token := client.Subscribe(pattern, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(core.Message{Topic: msg.Topic(), Payload: msg.Payload()})
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", pattern, err)
	}
	t.logger.Debug("mqtt subscribed", "name", t.name, "pattern", pattern)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(disconnectQuiesceMs)
	t.logger.Info("mqtt transport disconnected", "name", t.name)
	return nil
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ core.Transport = (*Transport)(nil)
