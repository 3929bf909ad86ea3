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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

// Factory builds the transport for one device from the per-type string map
// found under transport.config.
type Factory func(id core.DeviceID, cfg map[string]string, logger *slog.Logger) (core.Transport, error)

type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
	mu        sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	r.factories[typ] = f
	r.mu.Unlock()
	r.logger.Debug("registered transport", "type", typ)
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for k := range r.factories {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// New creates an unconnected transport of the given type for device id.
func (r *Registry) New(typ string, id core.DeviceID, cfg map[string]string) (core.Transport, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTransport, typ)
	}
	return f(id, cfg, r.logger.With("transport", typ, "device_id", int(id)))
}
