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
	"log/slog"
	"os"
	"testing"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

func TestNewConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tr, err := New(3, map[string]string{"brokers": "k1:9092,k2:9092", "topic": "drones"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kt := tr.(*Transport)
	if len(kt.brokers) != 2 || kt.brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", kt.brokers)
	}
	if kt.topic != "drones" || kt.groupID != "swarm" {
		t.Fatalf("unexpected topic/group %s/%s", kt.topic, kt.groupID)
	}
	if kt.Name() != "kafka-3" || kt.Type() != "kafka" {
		t.Fatalf("unexpected name/type %s/%s", kt.Name(), kt.Type())
	}
}

func TestNotConnected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tr, _ := New(1, nil, logger)
	ctx := context.Background()

	if err := tr.Publish(ctx, "drone/1", nil, false); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.Subscribe(ctx, "drone/+", func(core.Message) {}); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect without connect: %v", err)
	}
}
