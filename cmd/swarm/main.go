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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wso2/api-platform/swarm-mailbox/internal/driver"
	"github.com/wso2/api-platform/swarm-mailbox/internal/logging"
	"github.com/wso2/api-platform/swarm-mailbox/internal/mailbox"
	"github.com/wso2/api-platform/swarm-mailbox/internal/monitor"
	"github.com/wso2/api-platform/swarm-mailbox/internal/program"
	"github.com/wso2/api-platform/swarm-mailbox/internal/swarm"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/codec"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/config"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/kafka"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/memory"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/mqtt"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/plugins/redis"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "swarm",
		Short: "Run a swarm of devices exchanging neighbor mail over pub/sub",
		Long: `swarm starts a population of simulated devices. Each device beacons its
presence on a shared broker, learns its neighbors from their beacons and
runs a program in rounds, exchanging one message per neighbor per round.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, out)
		},
	}

	f := root.Flags()
	f.StringP("config", "c", "", "config file (default is $CONFIG_PATH or "+config.DefaultPath+")")
	f.Int("start-id", 0, "id of the first device")
	f.IntP("devices", "n", 0, "number of devices")
	f.Duration("duration", 0, "how long the swarm runs")
	f.String("mode", "", "driver mode: periodic or reactive")
	f.Duration("round-interval", 0, "time between periodic rounds")
	f.Bool("coalesce", false, "collapse queued inbound events into one reactive round")
	f.String("transport", "", "transport type")
	f.String("broker", "", "broker address passed to the transport")
	f.String("codec", "", "wire codec: json or protobuf")
	f.Duration("retention", 0, "how long neighbors and messages stay visible")
	f.Duration("heartbeat", 0, "presence beacon period")
	f.Int("monitor-port", 0, "serve the round monitor on this port")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "json or text")

	root.AddCommand(newTransportsCmd(out))
	return root
}

func newTransportsCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "transports",
		Short: "List the available transport types",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			for _, typ := range newRegistry(logger, memory.NewBroker()).Types() {
				fmt.Fprintln(out, typ)
			}
		},
	}
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()

	path, _ := f.GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if f.Changed("start-id") {
		cfg.Swarm.StartID, _ = f.GetInt("start-id")
	}
	if f.Changed("devices") {
		cfg.Swarm.DeviceCount, _ = f.GetInt("devices")
	}
	if f.Changed("duration") {
		cfg.Swarm.RunDuration, _ = f.GetDuration("duration")
	}
	if f.Changed("mode") {
		cfg.Driver.Mode, _ = f.GetString("mode")
	}
	if f.Changed("round-interval") {
		cfg.Driver.RoundInterval, _ = f.GetDuration("round-interval")
	}
	if f.Changed("coalesce") {
		cfg.Driver.Coalesce, _ = f.GetBool("coalesce")
	}
	if f.Changed("transport") {
		cfg.Transport.Type, _ = f.GetString("transport")
	}
	if f.Changed("broker") {
		broker, _ := f.GetString("broker")
		if cfg.Transport.Config == nil {
			cfg.Transport.Config = make(map[string]string)
		}
		cfg.Transport.Config[brokerKey(cfg.Transport.Type)] = broker
	}
	if f.Changed("codec") {
		cfg.Mailbox.Codec, _ = f.GetString("codec")
	}
	if f.Changed("retention") {
		cfg.Mailbox.Retention, _ = f.GetDuration("retention")
	}
	if f.Changed("heartbeat") {
		cfg.Mailbox.HeartbeatInterval, _ = f.GetDuration("heartbeat")
	}
	if f.Changed("monitor-port") {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Port, _ = f.GetInt("monitor-port")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// brokerKey names the config key each transport reads its broker address
// from.
func brokerKey(transport string) string {
	switch transport {
	case "redis":
		return "addr"
	case "rabbitmq":
		return "url"
	case "kafka":
		return "brokers"
	default:
		return "broker"
	}
}

func newRegistry(logger *slog.Logger, broker *memory.Broker) *plugins.Registry {
	reg := plugins.NewRegistry(logger)
	reg.Register("memory", memory.Factory(broker))
	reg.Register("mqtt", mqtt.New)
	reg.Register("mqtt5", mqtt5.New)
	reg.Register("redis", redis.New)
	reg.Register("rabbitmq", rabbitmq.New)
	reg.Register("kafka", kafka.New)
	return reg
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := cfg.Log.NewLogger(out)

	reg := newRegistry(logger, memory.NewBroker())
	if !reg.Has(cfg.Transport.Type) {
		return fmt.Errorf("%w: %q (available: %v)", core.ErrUnknownTransport, cfg.Transport.Type, reg.Types())
	}
	wire, err := codec.New(cfg.Mailbox.Codec)
	if err != nil {
		return err
	}
	prog, err := program.New(cfg.Driver.Program)
	if err != nil {
		return err
	}
	mode, err := driver.ParseMode(cfg.Driver.Mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporters := []core.Reporter{logging.NewRoundLogger(logger.With("component", "rounds"))}
	if cfg.Monitor.Enabled {
		hub := monitor.NewHub(logger.With("component", "monitor"))
		reporters = append(reporters, hub)
		srv := monitor.NewServer(cfg.Monitor.Port, hub, logger.With("component", "monitor"))
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("monitor stopped", "error", err)
			}
		}()
	}

	sup, err := swarm.New(swarm.Config{
		StartID:          core.DeviceID(cfg.Swarm.StartID),
		DeviceCount:      cfg.Swarm.DeviceCount,
		RunDuration:      cfg.Swarm.RunDuration,
		StartConcurrency: cfg.Swarm.StartConcurrency,
		Driver: driver.Config{
			Mode:     mode,
			Interval: cfg.Driver.RoundInterval,
			Coalesce: cfg.Driver.Coalesce,
		},
		MailboxOptions: []mailbox.Option{
			mailbox.WithHeartbeat(cfg.Mailbox.HeartbeatInterval),
			mailbox.WithRetention(cfg.Mailbox.Retention),
			mailbox.WithTopicPrefix(cfg.Mailbox.TopicPrefix),
			mailbox.WithBufferSize(cfg.Mailbox.BufferSize),
		},
	}, func(id core.DeviceID) (core.Transport, error) {
		return reg.New(cfg.Transport.Type, id, cfg.Transport.Config)
	}, wire, prog, logger, reporters...)
	if err != nil {
		return err
	}

	logger.Info("swarm starting",
		"devices", cfg.Swarm.DeviceCount,
		"start_id", cfg.Swarm.StartID,
		"transport", cfg.Transport.Type,
		"codec", wire.Name(),
		"mode", mode.String(),
		"duration", cfg.Swarm.RunDuration,
	)
	started := time.Now()
	report := sup.Run(ctx)

	logger.Info("swarm finished",
		"started", len(report.Started),
		"failed", len(report.Failed),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	for _, id := range report.FailedIDs() {
		logger.Warn("device failed", "device_id", int(id), "error", report.Failed[id])
	}
	if len(report.Started) == 0 {
		return errors.New("no device started")
	}
	return nil
}
