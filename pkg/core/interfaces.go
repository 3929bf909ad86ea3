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

package core

import "context"

// MessageHandler receives deliveries from a subscription. Handlers run on the
// transport's delivery goroutine and must not block for long.
type MessageHandler func(msg Message)

// Transport is a best-effort publish/subscribe connection owned by exactly
// one mailbox. Topics use '/' separated levels; a subscription pattern may
// use '+' for a single level and a trailing '#' for any remaining levels.
type Transport interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, reliable bool) error
	Subscribe(ctx context.Context, pattern string, handler MessageHandler) error
	Disconnect(ctx context.Context) error
}

type Codec interface {
	Name() string
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// Program is the computation step run once per round. It must treat its
// input as read-only.
type Program interface {
	Step(ctx context.Context, in RoundInput) (RoundOutput, error)
}

type ProgramFunc func(ctx context.Context, in RoundInput) (RoundOutput, error)

func (f ProgramFunc) Step(ctx context.Context, in RoundInput) (RoundOutput, error) {
	return f(ctx, in)
}

type Reporter interface {
	Report(result RoundResult)
}

// Membership is the write side of a mailbox, fed by the discovery channel.
type Membership interface {
	Self() DeviceID
	AddNeighbor(id DeviceID)
	Deliver(msg InboundMessage)
}
