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

package plugins

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/memory"
)

func TestRegistryNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewRegistry(logger)
	reg.Register("memory", memory.Factory(memory.NewBroker()))

	tr, err := reg.New("memory", 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Type() != "memory" {
		t.Fatalf("expected memory transport, got %s", tr.Type())
	}
	if tr.Name() != "memory-3" {
		t.Fatalf("expected memory-3, got %s", tr.Name())
	}
	if !reg.Has("memory") || reg.Has("mqtt") {
		t.Fatal("unexpected Has result")
	}
}

func TestRegistryUnknownType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewRegistry(logger)

	_, err := reg.New("carrier-pigeon", 1, nil)
	if !errors.Is(err, core.ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := NewRegistry(logger)
	f := memory.Factory(memory.NewBroker())
	reg.Register("mqtt", f)
	reg.Register("kafka", f)
	reg.Register("memory", f)

	got := reg.Types()
	want := []string{"kafka", "memory", "mqtt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
