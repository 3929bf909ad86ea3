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

// Package program holds the computations a device can run each round.
package program

import (
	"context"
	"fmt"
	"sort"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

// NeighborSet reports the ids of the device's current neighbors and greets
// each of them with its own id, so every neighbor hears from it once per
// round.
type NeighborSet struct{}

func (NeighborSet) Step(ctx context.Context, in core.RoundInput) (core.RoundOutput, error) {
	if err := ctx.Err(); err != nil {
		return core.RoundOutput{}, err
	}
	ids := make([]core.DeviceID, len(in.Neighbors))
	copy(ids, in.Neighbors)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	payload := []byte(in.Self.String())
	out := make([]core.OutboundMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.OutboundMessage{Target: id, Payload: payload})
	}
	return core.RoundOutput{Value: ids, Outbound: out}, nil
}

// New returns the program registered under name.
func New(name string) (core.Program, error) {
	switch name {
	case "", "neighbors":
		return NeighborSet{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown program %q", core.ErrInvalidConfig, name)
	}
}
