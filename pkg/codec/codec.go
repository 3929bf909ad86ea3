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

package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.dedis.ch/protobuf"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const (
	JSON     = "json"
	Protobuf = "protobuf"
)

// New returns the codec registered under name. An empty name selects JSON.
func New(name string) (core.Codec, error) {
	switch name {
	case "", JSON:
		return JSONCodec{}, nil
	case Protobuf:
		return ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownCodec, name)
	}
}

// ErrMissingSender is returned when a decoded message does not name its
// sender.
var ErrMissingSender = errors.New("envelope has no sender")

type jsonEnvelope struct {
	Sender  *int64 `json:"sender_id"`
	Payload []byte `json:"payload"`
	SentAt  int64  `json:"sent_at,omitempty"`
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return JSON }

func (JSONCodec) Encode(env core.Envelope) ([]byte, error) {
	sender := env.Sender
	return json.Marshal(jsonEnvelope{Sender: &sender, Payload: env.Payload, SentAt: env.SentAt})
}

func (JSONCodec) Decode(data []byte) (core.Envelope, error) {
	var je jsonEnvelope
	if err := json.Unmarshal(data, &je); err != nil {
		return core.Envelope{}, fmt.Errorf("decode json envelope: %w", err)
	}
	if je.Sender == nil {
		return core.Envelope{}, fmt.Errorf("decode json envelope: %w", ErrMissingSender)
	}
	return core.Envelope{Sender: *je.Sender, Payload: je.Payload, SentAt: je.SentAt}, nil
}

type ProtobufCodec struct{}

func (ProtobufCodec) Name() string { return Protobuf }

func (ProtobufCodec) Encode(env core.Envelope) ([]byte, error) {
	data, err := protobuf.Encode(&env)
	if err != nil {
		return nil, fmt.Errorf("encode protobuf envelope: %w", err)
	}
	return data, nil
}

func (ProtobufCodec) Decode(data []byte) (env core.Envelope, err error) {
	// the reflective decoder panics on some truncated inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode protobuf envelope: %v", r)
		}
	}()
	if err := protobuf.Decode(data, &env); err != nil {
		return core.Envelope{}, fmt.Errorf("decode protobuf envelope: %w", err)
	}
	return env, nil
}
