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
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

func TestGlobPattern(t *testing.T) {
	tests := []struct {
		input    string
		glob     string
		wildcard bool
	}{
		{"drone/+", "drone/*", true},
		{"drone/3/neighbors", "drone/3/neighbors", false},
		{"drone/#", "drone/*", true},
		{"drone/+/neighbors", "drone/*/neighbors", true},
	}
	for _, tt := range tests {
		glob, wildcard := GlobPattern(tt.input)
		if glob != tt.glob || wildcard != tt.wildcard {
			t.Errorf("GlobPattern(%q) = %q, %v; want %q, %v", tt.input, glob, wildcard, tt.glob, tt.wildcard)
		}
	}
}

func TestNewConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	tr, err := New(9, map[string]string{"addr": "cache:6380", "db": "2"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rt := tr.(*Transport)
	if rt.addr != "cache:6380" || rt.db != 2 || rt.Name() != "redis-9" {
		t.Fatalf("unexpected transport %+v", rt)
	}

	if _, err := New(9, map[string]string{"db": "two"}, logger); err == nil {
		t.Fatal("expected error for non numeric db")
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
