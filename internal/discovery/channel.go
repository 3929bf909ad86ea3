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

// Package discovery keeps a device's liveness beacon on the transport and
// feeds peers' beacons and mail into the device's mailbox.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const (
	DefaultHeartbeat  = time.Second
	DefaultRetention  = 5 * time.Second
	DefaultBufferSize = 256
)

type Config struct {
	Heartbeat  time.Duration
	Retention  time.Duration
	Topics     Topics
	BufferSize int
}

// Validate rejects a heartbeat longer than the retention window, which would
// make neighbors flap in and out between beacons.
func (c Config) Validate() error {
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive, got %s", core.ErrInvalidConfig, c.Heartbeat)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("%w: retention must be positive, got %s", core.ErrInvalidConfig, c.Retention)
	}
	if c.Heartbeat > c.Retention {
		return fmt.Errorf("%w: heartbeat %s exceeds retention %s", core.ErrInvalidConfig, c.Heartbeat, c.Retention)
	}
	return nil
}

type Channel struct {
	self       core.DeviceID
	transport  core.Transport
	codec      core.Codec
	membership core.Membership
	cfg        Config
	logger     *slog.Logger

	presence chan core.Message
	mail     chan core.Message

	beacons      atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
}

func New(
	transport core.Transport,
	codec core.Codec,
	membership core.Membership,
	cfg Config,
	logger *slog.Logger,
) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Topics.Prefix == "" {
		cfg.Topics = NewTopics("")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Channel{
		self:       membership.Self(),
		transport:  transport,
		codec:      codec,
		membership: membership,
		cfg:        cfg,
		logger:     logger,
		presence:   make(chan core.Message, cfg.BufferSize),
		mail:       make(chan core.Message, cfg.BufferSize),
	}, nil
}

func (c *Channel) Topics() Topics { return c.cfg.Topics }

// Subscribe registers the presence wildcard and this device's mail topic.
// Deliveries are queued for the listener loops; when a queue is full the
// message is dropped.
func (c *Channel) Subscribe(ctx context.Context) error {
	if err := c.transport.Subscribe(ctx, c.cfg.Topics.PresenceWildcard(), c.enqueue(c.presence, "presence")); err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	if err := c.transport.Subscribe(ctx, c.cfg.Topics.Mail(c.self), c.enqueue(c.mail, "mail")); err != nil {
		return fmt.Errorf("subscribe mail: %w", err)
	}
	c.logger.Info("discovery subscribed",
		"presence", c.cfg.Topics.PresenceWildcard(),
		"mail", c.cfg.Topics.Mail(c.self),
	)
	return nil
}

func (c *Channel) enqueue(ch chan core.Message, kind string) core.MessageHandler {
	return func(msg core.Message) {
		select {
		case ch <- msg:
		default:
			c.dropped.Add(1)
			c.logger.Warn("discovery queue full, dropping message", "kind", kind, "topic", msg.Topic)
		}
	}
}

// Beacon publishes this device's presence immediately and then once per
// heartbeat until ctx is done.
func (c *Channel) Beacon(ctx context.Context) {
	topic := c.cfg.Topics.Presence(c.self)
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		if err := c.transport.Publish(ctx, topic, []byte{}, false); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("beacon publish failed", "topic", topic, "error", err)
		} else {
			c.beacons.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Channel) ListenPresence(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.presence:
			c.HandlePresence(msg)
		}
	}
}

func (c *Channel) ListenMail(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.mail:
			c.HandleMail(msg)
		}
	}
}

func (c *Channel) HandlePresence(msg core.Message) {
	id, err := c.cfg.Topics.ParsePresence(msg.Topic)
	if err != nil {
		c.logger.Debug("ignoring presence message", "topic", msg.Topic, "error", err)
		return
	}
	c.membership.AddNeighbor(id)
}

// HandleMail decodes one inbound mail message. Malformed payloads are logged
// and dropped.
func (c *Channel) HandleMail(msg core.Message) {
	env, err := c.codec.Decode(msg.Payload)
	if err != nil {
		c.decodeErrors.Add(1)
		c.logger.Error("error decoding message", "topic", msg.Topic, "codec", c.codec.Name(), "error", err)
		return
	}
	c.logger.Debug("received message", "from", env.Sender, "to", int(c.self))
	c.membership.Deliver(core.InboundMessage{
		Sender:  core.DeviceID(env.Sender),
		Payload: env.Payload,
	})
}

// Send encodes payload as a message from this device and publishes it on the
// target's mail topic.
func (c *Channel) Send(ctx context.Context, target core.DeviceID, payload []byte) error {
	data, err := c.codec.Encode(core.Envelope{
		Sender:  int64(c.self),
		Payload: payload,
		SentAt:  time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode message for %d: %w", int(target), err)
	}
	return c.transport.Publish(ctx, c.cfg.Topics.Mail(target), data, true)
}

func (c *Channel) Beacons() uint64      { return c.beacons.Load() }
func (c *Channel) DecodeErrors() uint64 { return c.decodeErrors.Load() }
func (c *Channel) Dropped() uint64      { return c.dropped.Load() }
