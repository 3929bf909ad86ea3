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

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/swarm/config.yaml"

type Config struct {
	Swarm     SwarmConfig     `yaml:"swarm"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Driver    DriverConfig    `yaml:"driver"`
	Transport TransportConfig `yaml:"transport"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
}

type SwarmConfig struct {
	StartID          int           `yaml:"start_id"`
	DeviceCount      int           `yaml:"device_count"`
	RunDuration      time.Duration `yaml:"run_duration"`
	StartConcurrency int           `yaml:"start_concurrency"`
}

type MailboxConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Retention         time.Duration `yaml:"retention"`
	TopicPrefix       string        `yaml:"topic_prefix"`
	Codec             string        `yaml:"codec"`
	BufferSize        int           `yaml:"buffer_size"`
}

type DriverConfig struct {
	Mode          string        `yaml:"mode"`
	RoundInterval time.Duration `yaml:"round_interval"`
	Coalesce      bool          `yaml:"coalesce"`
	Program       string        `yaml:"program"`
}

type TransportConfig struct {
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration of the reference swarm: fifty devices
// beaconing over MQTT for one minute. The mqtt transport falls back to the
// public Mosquitto broker when no broker is configured.
func Default() *Config {
	return &Config{
		Swarm: SwarmConfig{
			StartID:          0,
			DeviceCount:      50,
			RunDuration:      60 * time.Second,
			StartConcurrency: 8,
		},
		Mailbox: MailboxConfig{
			HeartbeatInterval: time.Second,
			Retention:         5 * time.Second,
			TopicPrefix:       "drone",
			Codec:             "json",
			BufferSize:        256,
		},
		Driver: DriverConfig{
			Mode:          "periodic",
			RoundInterval: time.Second,
			Program:       "neighbors",
		},
		Transport: TransportConfig{Type: "mqtt"},
		Monitor:   MonitorConfig{Port: 8090},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Swarm.DeviceCount <= 0:
		return invalid("swarm.device_count must be positive, got %d", c.Swarm.DeviceCount)
	case c.Swarm.RunDuration <= 0:
		return invalid("swarm.run_duration must be positive, got %s", c.Swarm.RunDuration)
	case c.Swarm.StartConcurrency < 0:
		return invalid("swarm.start_concurrency must not be negative, got %d", c.Swarm.StartConcurrency)
	case c.Mailbox.HeartbeatInterval <= 0:
		return invalid("mailbox.heartbeat_interval must be positive, got %s", c.Mailbox.HeartbeatInterval)
	case c.Mailbox.Retention <= 0:
		return invalid("mailbox.retention must be positive, got %s", c.Mailbox.Retention)
	case c.Mailbox.HeartbeatInterval > c.Mailbox.Retention:
		return invalid("mailbox.heartbeat_interval %s exceeds retention %s", c.Mailbox.HeartbeatInterval, c.Mailbox.Retention)
	case c.Driver.RoundInterval <= 0:
		return invalid("driver.round_interval must be positive, got %s", c.Driver.RoundInterval)
	case c.Transport.Type == "":
		return invalid("transport.type is required")
	case c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535):
		return invalid("monitor.port out of range: %d", c.Monitor.Port)
	}
	switch strings.ToLower(c.Driver.Mode) {
	case "", "periodic", "reactive":
	default:
		return invalid("driver.mode must be periodic or reactive, got %q", c.Driver.Mode)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrInvalidConfig}, args...)...)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. Any format other than "text" yields
// JSON records.
func (lc LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(lc.Level)}
	if strings.EqualFold(lc.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
