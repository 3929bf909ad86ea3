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

// Package swarm starts a population of devices, lets them run for a bounded
// time and tears every one of them down again.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wso2/api-platform/swarm-mailbox/internal/driver"
	"github.com/wso2/api-platform/swarm-mailbox/internal/mailbox"
	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
	"golang.org/x/sync/errgroup"
)

const DefaultShutdownTimeout = 10 * time.Second

// TransportFactory builds the transport owned by one device.
type TransportFactory func(id core.DeviceID) (core.Transport, error)

type Config struct {
	StartID     core.DeviceID
	DeviceCount int
	RunDuration time.Duration
	// StartConcurrency bounds how many devices connect at once. Zero means
	// no bound.
	StartConcurrency int
	ShutdownTimeout  time.Duration
	Driver           driver.Config
	MailboxOptions   []mailbox.Option
}

// StartError records why one device never reached the running state.
type StartError struct {
	Device core.DeviceID
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("device %d failed to start: %v", int(e.Device), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type Device struct {
	ID      core.DeviceID
	Mailbox *mailbox.Mailbox
	Driver  *driver.Driver
	cancel  context.CancelFunc
}

type Report struct {
	Started []core.DeviceID                    `json:"started"`
	Failed  map[core.DeviceID]error            `json:"-"`
	States  map[core.DeviceID]core.DriverState `json:"states"`
	Closed  map[core.DeviceID]bool             `json:"closed"`
	Rounds  map[core.DeviceID]uint64           `json:"rounds"`
}

type Supervisor struct {
	cfg        Config
	transports TransportFactory
	codec      core.Codec
	program    core.Program
	reporters  []core.Reporter
	logger     *slog.Logger

	devices *Table

	mu     sync.Mutex
	failed map[core.DeviceID]error
}

func New(
	cfg Config,
	transports TransportFactory,
	codec core.Codec,
	program core.Program,
	logger *slog.Logger,
	reporters ...core.Reporter,
) (*Supervisor, error) {
	if cfg.DeviceCount <= 0 {
		return nil, fmt.Errorf("%w: device count must be positive, got %d", core.ErrInvalidConfig, cfg.DeviceCount)
	}
	if cfg.RunDuration <= 0 {
		return nil, fmt.Errorf("%w: run duration must be positive, got %s", core.ErrInvalidConfig, cfg.RunDuration)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Supervisor{
		cfg:        cfg,
		transports: transports,
		codec:      codec,
		program:    program,
		reporters:  reporters,
		logger:     logger.With("component", "swarm"),
		devices:    NewTable(),
		failed:     make(map[core.DeviceID]error),
	}, nil
}

func (s *Supervisor) Devices() *Table { return s.devices }

// Run starts every device, lets the swarm run for the configured duration or
// until ctx is cancelled, then stops it and reports the final state.
func (s *Supervisor) Run(ctx context.Context) Report {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Start(runCtx)
	s.logger.Info("swarm running",
		"started", s.devices.Len(),
		"failed", len(s.failures()),
		"duration", s.cfg.RunDuration,
	)

	timer := time.NewTimer(s.cfg.RunDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("swarm cancelled")
	case <-timer.C:
		s.logger.Info("swarm run duration elapsed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shutdownCancel()
	return s.Stop(shutdownCtx)
}

// Start brings up all devices concurrently. A device that fails to start is
// recorded and does not affect the others.
func (s *Supervisor) Start(ctx context.Context) {
	var g errgroup.Group
	if s.cfg.StartConcurrency > 0 {
		g.SetLimit(s.cfg.StartConcurrency)
	}
	for i := 0; i < s.cfg.DeviceCount; i++ {
		id := s.cfg.StartID + core.DeviceID(i)
		g.Go(func() error {
			if err := s.startDevice(ctx, id); err != nil {
				serr := &StartError{Device: id, Err: err}
				s.mu.Lock()
				s.failed[id] = serr
				s.mu.Unlock()
				s.logger.Error("device start failed", "device_id", int(id), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) startDevice(ctx context.Context, id core.DeviceID) error {
	tr, err := s.transports(id)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	mb, err := mailbox.Open(ctx, id, tr, s.codec, s.logger, s.cfg.MailboxOptions...)
	if err != nil {
		return err
	}

	drv, err := driver.New(mb, s.program, s.cfg.Driver, s.logger, s.reporters...)
	if err != nil {
		if cerr := mb.Close(context.Background()); cerr != nil {
			s.logger.Warn("mailbox close after failed start", "device_id", int(id), "error", cerr)
		}
		return err
	}

	driverCtx, cancel := context.WithCancel(ctx)
	dev := &Device{ID: id, Mailbox: mb, Driver: drv, cancel: cancel}
	s.devices.Add(dev)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("driver panic recovered", "device_id", int(id), "error", r)
			}
		}()
		if err := drv.Run(driverCtx); err != nil {
			if errors.Is(err, core.ErrMailboxClosed) {
				s.logger.Debug("driver stopped by closed mailbox", "device_id", int(id))
				return
			}
			s.logger.Error("driver error", "device_id", int(id), "error", err)
		}
	}()

	s.logger.Debug("device started", "device_id", int(id))
	return nil
}

// Stop cancels every driver, closes every mailbox and waits for the drivers
// to finish, giving up when ctx expires.
func (s *Supervisor) Stop(ctx context.Context) Report {
	devices := s.devices.All()
	for _, d := range devices {
		d.cancel()
	}

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			if err := d.Mailbox.Close(ctx); err != nil && !errors.Is(err, core.ErrMailboxClosed) {
				s.logger.Warn("mailbox close failed", "device_id", int(d.ID), "error", err)
			}
			select {
			case <-d.Driver.Done():
			case <-ctx.Done():
				s.logger.Warn("driver did not stop in time", "device_id", int(d.ID))
			}
		}(d)
	}
	wg.Wait()

	report := Report{
		Failed: s.failures(),
		States: make(map[core.DeviceID]core.DriverState, len(devices)),
		Closed: make(map[core.DeviceID]bool, len(devices)),
		Rounds: make(map[core.DeviceID]uint64, len(devices)),
	}
	for _, d := range devices {
		report.Started = append(report.Started, d.ID)
		report.States[d.ID] = d.Driver.State()
		report.Closed[d.ID] = d.Mailbox.Closed()
		report.Rounds[d.ID] = d.Driver.Rounds()
	}
	s.logger.Info("swarm stopped", "started", len(report.Started), "failed", len(report.Failed))
	return report
}

func (s *Supervisor) failures() map[core.DeviceID]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.DeviceID]error, len(s.failed))
	for id, err := range s.failed {
		out[id] = err
	}
	return out
}

// FailedIDs returns the ids in r.Failed in ascending order.
func (r Report) FailedIDs() []core.DeviceID {
	ids := make([]core.DeviceID, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
