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

	"github.com/google/uuid"
)

// GenerateClientID builds a broker client identifier for a device. Brokers
// reject a second connection with a duplicate id, so a random suffix keeps
// restarted devices from kicking their previous session.
func GenerateClientID(prefix string, id DeviceID) string {
	if prefix == "" {
		prefix = "swarm"
	}
	return fmt.Sprintf("%s-%d-%s", prefix, int(id), uuid.New().String()[:8])
}
