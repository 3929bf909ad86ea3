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

package discovery

import (
	"fmt"
	"strings"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const (
	DefaultPrefix = "drone"
	mailSuffix    = "neighbors"
)

// Topics names the channels of one swarm. A device beacons on
// "<prefix>/<id>" and receives mail on "<prefix>/<id>/neighbors".
type Topics struct {
	Prefix string
}

func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) Presence(id core.DeviceID) string {
	return fmt.Sprintf("%s/%d", t.Prefix, int(id))
}

func (t Topics) PresenceWildcard() string {
	return t.Prefix + "/+"
}

func (t Topics) Mail(id core.DeviceID) string {
	return fmt.Sprintf("%s/%d/%s", t.Prefix, int(id), mailSuffix)
}

// ParsePresence extracts the beaconing device from a presence topic.
func (t Topics) ParsePresence(topic string) (core.DeviceID, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, fmt.Errorf("%w: %q", core.ErrMalformedTopic, topic)
	}
	id, err := core.ParseDeviceID(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", core.ErrMalformedTopic, topic, err)
	}
	return id, nil
}
