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

package swarm

import (
	"sort"
	"sync"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

// Table tracks the running devices of a swarm by id.
type Table struct {
	devices sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(d *Device) {
	t.devices.Store(d.ID, d)
}

func (t *Table) Lookup(id core.DeviceID) (*Device, bool) {
	v, ok := t.devices.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Device), true
}

// All returns every device ordered by id.
func (t *Table) All() []*Device {
	var out []*Device
	t.devices.Range(func(_, v any) bool {
		out = append(out, v.(*Device))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Table) Len() int {
	n := 0
	t.devices.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
