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

// Package driver runs a device's program in rounds, either on a fixed
// interval or once per inbound message.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

const DefaultInterval = time.Second

type Mode int

const (
	ModePeriodic Mode = iota
	ModeReactive
)

func (m Mode) String() string {
	if m == ModeReactive {
		return "reactive"
	}
	return "periodic"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "periodic":
		return ModePeriodic, nil
	case "reactive":
		return ModeReactive, nil
	default:
		return 0, fmt.Errorf("%w: unknown driver mode %q", core.ErrInvalidConfig, s)
	}
}

// Mailbox is the part of a device mailbox a driver reads from and sends
// through.
type Mailbox interface {
	Self() core.DeviceID
	Neighbors() []core.DeviceID
	Messages() map[core.DeviceID][]byte
	Send(target core.DeviceID, payload []byte) error
	Inbound() <-chan struct{}
	Purge() int
	// Done is closed once the mailbox has been closed.
	Done() <-chan struct{}
}

type Config struct {
	Mode     Mode
	Interval time.Duration
	// Coalesce collapses inbound events queued while a reactive round runs
	// into a single follow-up round.
	Coalesce bool
}

type Driver struct {
	cfg       Config
	mailbox   Mailbox
	program   core.Program
	reporters []core.Reporter
	logger    *slog.Logger

	state    atomic.Int32
	rounds   atomic.Uint64
	failures atomic.Uint64
	done     chan struct{}
}

func New(
	mailbox Mailbox,
	program core.Program,
	cfg Config,
	logger *slog.Logger,
	reporters ...core.Reporter,
) (*Driver, error) {
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: negative round interval %s", core.ErrInvalidConfig, cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Mode != ModePeriodic && cfg.Mode != ModeReactive {
		return nil, fmt.Errorf("%w: unknown driver mode %d", core.ErrInvalidConfig, int(cfg.Mode))
	}
	return &Driver{
		cfg:       cfg,
		mailbox:   mailbox,
		program:   program,
		reporters: reporters,
		logger:    logger.With("component", "driver", "device_id", int(mailbox.Self()), "mode", cfg.Mode.String()),
		done:      make(chan struct{}),
	}, nil
}

// Run drives rounds until ctx is cancelled or the mailbox is closed. It
// returns nil on cancellation and an error wrapping core.ErrMailboxClosed
// when the mailbox went away underneath it. Run may be called once.
func (d *Driver) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(core.StateIdle), int32(core.StateRunning)) {
		return core.ErrDriverStarted
	}
	defer func() {
		d.logger.Info("driver stopped", "rounds", d.rounds.Load(), "failures", d.failures.Load())
		d.state.Store(int32(core.StateStopped))
		close(d.done)
	}()

	d.logger.Info("driver started", "interval", d.cfg.Interval)
	if d.cfg.Mode == ModeReactive {
		return d.runReactive(ctx)
	}
	return d.runPeriodic(ctx)
}

func (d *Driver) runPeriodic(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.Interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runRound(ctx); err != nil {
			return err
		}
		timer.Reset(d.cfg.Interval)
		select {
		case <-ctx.Done():
			return nil
		case <-d.mailbox.Done():
			return d.closed()
		case <-timer.C:
		}
	}
}

func (d *Driver) runReactive(ctx context.Context) error {
	inbound := d.mailbox.Inbound()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.mailbox.Done():
			return d.closed()
		case <-inbound:
		}
		if d.cfg.Coalesce {
			drain(inbound)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runRound(ctx); err != nil {
			return err
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// runRound executes one program step against a fresh mailbox snapshot and
// dispatches its outbound messages. Only a closed mailbox is returned as an
// error; program failures are reported and swallowed.
func (d *Driver) runRound(ctx context.Context) error {
	select {
	case <-d.mailbox.Done():
		return d.closed()
	default:
	}

	started := time.Now()
	round := d.rounds.Add(1)
	self := d.mailbox.Self()

	d.mailbox.Purge()
	in := core.RoundInput{
		Self:      self,
		Round:     round,
		Neighbors: d.mailbox.Neighbors(),
		Messages:  d.mailbox.Messages(),
	}
	result := core.RoundResult{
		Device:    self,
		Round:     round,
		Neighbors: in.Neighbors,
		Started:   started,
		Metadata:  map[string]string{"mode": d.cfg.Mode.String()},
	}

	out, err := d.step(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			d.logger.Debug("round abandoned", "round", round)
			return nil
		}
		return d.fail(result, "program", err)
	}

	for _, msg := range out.Outbound {
		if err := d.mailbox.Send(msg.Target, msg.Payload); err != nil {
			if ctx.Err() != nil {
				d.logger.Debug("round abandoned during send", "round", round)
				return nil
			}
			result.Outbound = len(out.Outbound)
			return d.fail(result, "send", fmt.Errorf("send to %d: %w", int(msg.Target), err))
		}
	}

	result.Value = out.Value
	result.Outbound = len(out.Outbound)
	result.Elapsed = time.Since(started)
	d.report(result)
	return nil
}

func (d *Driver) step(ctx context.Context, in core.RoundInput) (out core.RoundOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panic: %v", r)
		}
	}()
	return d.program.Step(ctx, in)
}

func (d *Driver) closed() error {
	return fmt.Errorf("device %d: %w", int(d.mailbox.Self()), core.ErrMailboxClosed)
}

// fail reports a failed round. stage names the part of the round that
// failed: "program" or "send".
func (d *Driver) fail(result core.RoundResult, stage string, err error) error {
	d.failures.Add(1)
	result.Metadata["stage"] = stage
	result.Err = err
	result.Error = err.Error()
	result.Elapsed = time.Since(result.Started)
	d.report(result)

	if errors.Is(err, core.ErrMailboxClosed) {
		return fmt.Errorf("device %d round %d: %w", int(result.Device), result.Round, err)
	}
	d.logger.Warn("round failed", "round", result.Round, "error", err)
	return nil
}

func (d *Driver) report(result core.RoundResult) {
	for _, r := range d.reporters {
		r.Report(result)
	}
}

func (d *Driver) Mode() Mode { return d.cfg.Mode }

func (d *Driver) State() core.DriverState { return core.DriverState(d.state.Load()) }

// Done is closed once Run has returned.
func (d *Driver) Done() <-chan struct{} { return d.done }

func (d *Driver) Rounds() uint64   { return d.rounds.Load() }
func (d *Driver) Failures() uint64 { return d.failures.Load() }
