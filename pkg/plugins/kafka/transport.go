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

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const (
	defaultBrokers = "localhost:9092"
	defaultTopic   = "swarm-mailbox"
)

// Transport carries every logical topic on one Kafka topic, using the
// logical topic as the message key. Each subscription reads with its own
// consumer group so that every device sees every record, and filters keys
// with the MQTT matching rules.
type Transport struct {
	name    string
	id      core.DeviceID
	brokers []string
	topic   string
	groupID string
	writer  *kafka.Writer
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

func New(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error) {
	brokers := cfg["brokers"]
	if brokers == "" {
		brokers = defaultBrokers
	}
	topic := cfg["topic"]
	if topic == "" {
		topic = defaultTopic
	}
	groupID := cfg["group_id"]
	if groupID == "" {
		groupID = "swarm"
	}
	return &Transport{
		name:    fmt.Sprintf("kafka-%d", int(id)),
		id:      id,
		brokers: strings.Split(brokers, ","),
		topic:   topic,
		groupID: groupID,
		logger:  logger,
	}, nil
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "kafka" }

func (t *Transport) Connect(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", t.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial %s: %w", t.brokers[0], err)
	}
	conn.Close()

	t.writer = &kafka.Writer{
		Addr:                   kafka.TCP(t.brokers...),
		Topic:                  t.topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.logger.Info("kafka transport connected",
		"name", t.name,
		"brokers", strings.Join(t.brokers, ","),
		"topic", t.topic,
	)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, reliable bool) error {
	if t.writer == nil {
		return core.ErrNotConnected
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic),
		Value: payload,
	})
}

func (t *Transport) Subscribe(ctx context.Context, pattern string, handler core.MessageHandler) error {
	if t.writer == nil {
		return core.ErrNotConnected
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.brokers,
		Topic:       t.topic,
		GroupID:     fmt.Sprintf("%s-%d-%s", t.groupID, int(t.id), uuid.New().String()[:8]),
		StartOffset: kafka.LastOffset,
		MaxWait:     250 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	t.mu.Lock()
	t.readers = append(t.readers, reader)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			msg, err := reader.ReadMessage(t.ctx)
			if err != nil {
				if t.ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				t.logger.Error("kafka read error", "name", t.name, "pattern", pattern, "error", err)
				return
			}
			key := string(msg.Key)
			if !core.MatchTopic(pattern, key) {
				continue
			}
			handler(core.Message{Topic: key, Payload: msg.Value})
		}
	}()
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	readers := t.readers
	t.readers = nil
	t.mu.Unlock()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			t.logger.Warn("kafka reader close failed", "name", t.name, "error", err)
		}
	}
	t.wg.Wait()

	if t.writer == nil {
		return nil
	}
	err := t.writer.Close()
	t.writer = nil
	return err
}

var _ core.Transport = (*Transport)(nil)
