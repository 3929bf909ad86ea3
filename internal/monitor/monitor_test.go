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

package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, h.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubKeepsLatestPerDevice(t *testing.T) {
	h := NewHub(testLogger())
	h.Report(core.RoundResult{Device: 2, Round: 1})
	h.Report(core.RoundResult{Device: 1, Round: 1})
	h.Report(core.RoundResult{Device: 2, Round: 2, Err: errors.New("boom")})

	latest := h.Latest()
	if len(latest) != 2 || latest[0].Device != 1 || latest[1].Round != 2 {
		t.Fatalf("unexpected latest %+v", latest)
	}
	if latest[1].Error != "boom" {
		t.Fatalf("expected error text to be filled, got %q", latest[1].Error)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(testLogger())
	h.buffer = 1
	_, ch, cancel := h.Subscribe()
	defer cancel()

	h.Report(core.RoundResult{Device: 1, Round: 1})
	h.Report(core.RoundResult{Device: 1, Round: 2})

	if got := (<-ch).Round; got != 1 {
		t.Fatalf("expected first round, got %d", got)
	}
	select {
	case r := <-ch:
		t.Fatalf("expected second round to be dropped, got %+v", r)
	default:
	}
	cancel()
	if h.Subscribers() != 0 {
		t.Fatal("expected subscriber to be removed")
	}
}

func TestRoundsEndpoint(t *testing.T) {
	h := NewHub(testLogger())
	h.Report(core.RoundResult{Device: 3, Round: 5, Value: "x"})
	srv := httptest.NewServer(NewServer(0, h, testLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rounds")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var all []core.RoundResult
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 1 || all[0].Device != 3 || all[0].Round != 5 {
		t.Fatalf("unexpected rounds %+v", all)
	}

	tests := []struct {
		query string
		code  int
	}{
		{"?device=3", http.StatusOK},
		{"?device=9", http.StatusNotFound},
		{"?device=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + "/rounds" + tt.query)
		if err != nil {
			t.Fatalf("get %s: %v", tt.query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("GET /rounds%s = %d, want %d", tt.query, resp.StatusCode, tt.code)
		}
	}

	resp, err = http.Post(srv.URL+"/rounds", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /rounds = %d", resp.StatusCode)
	}
}

func TestEventsEndpointStreams(t *testing.T) {
	h := NewHub(testLogger())
	srv := httptest.NewServer(NewServer(0, h, testLogger()).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	waitSubscribers(t, h, 1)
	h.Report(core.RoundResult{Device: 4, Round: 1})

	reader := bufio.NewReader(resp.Body)
	var id, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	if id != "4-1" {
		t.Fatalf("event id = %q", id)
	}
	var res core.RoundResult
	if err := json.Unmarshal([]byte(data), &res); err != nil || res.Device != 4 {
		t.Fatalf("unexpected event %q: %v", data, err)
	}
}

func TestWebsocketEndpointStreams(t *testing.T) {
	h := NewHub(testLogger())
	srv := httptest.NewServer(NewServer(0, h, testLogger()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitSubscribers(t, h, 1)
	h.Report(core.RoundResult{Device: 6, Round: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res core.RoundResult
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Device != 6 || res.Round != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitSubscribers(t, h, 0)
}
