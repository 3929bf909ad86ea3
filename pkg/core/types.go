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

import (
	"fmt"
	"strconv"
	"time"
)

// DeviceID identifies one device for its whole lifetime. It is embedded in
// topic names and used as the key of every per-device map.
type DeviceID int

func (id DeviceID) String() string { return strconv.Itoa(int(id)) }

// ParseDeviceID is the inverse of DeviceID.String. Only the canonical form
// is accepted, so "+5" and "05" do not alias device 5.
func ParseDeviceID(s string) (DeviceID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	id := DeviceID(n)
	if id.String() != s {
		return 0, fmt.Errorf("non-canonical device id %q", s)
	}
	return id, nil
}

type InboundMessage struct {
	Sender     DeviceID  `json:"sender"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

type OutboundMessage struct {
	Target  DeviceID `json:"target"`
	Payload []byte   `json:"payload"`
}

// Envelope is the wire form of a neighbor message. SentAt is unix nanoseconds.
type Envelope struct {
	Sender  int64
	Payload []byte
	SentAt  int64
}

// RoundInput is the snapshot of mailbox state handed to a Program.
type RoundInput struct {
	Self      DeviceID
	Round     uint64
	Neighbors []DeviceID
	Messages  map[DeviceID][]byte
}

// RoundOutput is what one Program step produces.
type RoundOutput struct {
	Value    any
	Outbound []OutboundMessage
}

type RoundResult struct {
	Device    DeviceID          `json:"device"`
	Round     uint64            `json:"round"`
	Value     any               `json:"value,omitempty"`
	Neighbors []DeviceID        `json:"neighbors"`
	Outbound  int               `json:"outbound"`
	Started   time.Time         `json:"started"`
	Elapsed   time.Duration     `json:"elapsed"`
	Err       error             `json:"-"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (r RoundResult) Failed() bool { return r.Err != nil }

type DriverState int

const (
	StateIdle DriverState = iota
	StateRunning
	StateStopped
)

func (s DriverState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Message is a single delivery observed on a transport subscription.
type Message struct {
	Topic   string
	Payload []byte
}
