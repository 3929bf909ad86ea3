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
	"strings"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"drone/+", "drone/3", true},
		{"drone/+", "drone/3/neighbors", false},
		{"drone/+/neighbors", "drone/3/neighbors", true},
		{"drone/3/neighbors", "drone/3/neighbors", true},
		{"drone/3/neighbors", "drone/4/neighbors", false},
		{"drone/#", "drone/3/neighbors", true},
		{"drone/#", "drone", false},
		{"drone/+", "other/3", false},
		{"+", "drone", true},
	}
	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if id.String() != "42" {
		t.Fatalf("expected \"42\", got %q", id.String())
	}
	if _, err := ParseDeviceID("drone"); err == nil {
		t.Fatal("expected error for non numeric id")
	}
	for _, s := range []string{"+5", "05", "-0", " 5", ""} {
		if _, err := ParseDeviceID(s); err == nil {
			t.Errorf("ParseDeviceID(%q) accepted a non-canonical id", s)
		}
	}
	if id, err := ParseDeviceID("-3"); err != nil || id != -3 {
		t.Fatalf("ParseDeviceID(\"-3\") = %d, %v", id, err)
	}
}

func TestGenerateClientID(t *testing.T) {
	a := GenerateClientID("swarm", 7)
	b := GenerateClientID("swarm", 7)
	if a == b {
		t.Fatal("expected distinct client ids")
	}
	if !strings.HasPrefix(a, "swarm-7-") {
		t.Fatalf("unexpected client id %s", a)
	}
	if !strings.HasPrefix(GenerateClientID("", 1), "swarm-1-") {
		t.Fatal("expected default prefix")
	}
}

func TestDriverStateString(t *testing.T) {
	if StateRunning.String() != "running" || StateStopped.String() != "stopped" || StateIdle.String() != "idle" {
		t.Fatal("unexpected state names")
	}
}
