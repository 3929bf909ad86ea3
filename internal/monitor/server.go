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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

type Server struct {
	port     int
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger
}

func NewServer(port int, hub *Hub, logger *slog.Logger) *Server {
	return &Server{
		port: port,
		hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rounds", s.handleRounds)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWebsocket)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("monitor starting", "port", s.port)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}

	var body any = s.hub.Latest()
	if q := r.URL.Query().Get("device"); q != "" {
		id, err := core.ParseDeviceID(q)
		if err != nil {
			http.Error(w, "invalid device id", http.StatusBadRequest)
			return
		}
		res, ok := s.hub.LatestFor(id)
		if !ok {
			http.Error(w, "no rounds for device", http.StatusNotFound)
			return
		}
		body = res
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode rounds failed", "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subID, results, cancel := s.hub.Subscribe()
	defer func() {
		cancel()
		s.logger.Info("sse client disconnected", "subscriber_id", subID)
	}()
	s.logger.Info("sse client connected", "subscriber_id", subID)

	for {
		select {
		case <-r.Context().Done():
			return
		case res := <-results:
			data, err := json.Marshal(res)
			if err != nil {
				s.logger.Error("marshal sse event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d-%d\ndata: %s\n\n", int(res.Device), res.Round, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}

	subID, results, cancel := s.hub.Subscribe()
	closed := make(chan struct{})
	defer func() {
		cancel()
		conn.Close()
		s.logger.Info("ws client disconnected", "subscriber_id", subID)
	}()
	s.logger.Info("ws client connected", "subscriber_id", subID)

	// the read side only watches for the peer going away
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Error("ws read error", "subscriber_id", subID, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res := <-results:
			if err := conn.WriteJSON(res); err != nil {
				s.logger.Error("ws write failed", "subscriber_id", subID, "error", err)
				return
			}
		}
	}
}
