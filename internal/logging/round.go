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

package logging

import (
	"fmt"
	"log/slog"

	"github.com/wso2/api-platform/swarm-mailbox/pkg/core"
)

// RoundLogger reports every finished round as one log record.
type RoundLogger struct {
	logger *slog.Logger
}

func NewRoundLogger(logger *slog.Logger) *RoundLogger {
	return &RoundLogger{logger: logger}
}

func (l *RoundLogger) Report(r core.RoundResult) {
	if r.Failed() {
		l.logger.Warn(fmt.Sprintf("For device %d: round failed", int(r.Device)),
			"device_id", int(r.Device),
			"round", r.Round,
			"neighbors", len(r.Neighbors),
			"elapsed", r.Elapsed,
			"stage", r.Metadata["stage"],
			"error", r.Err,
		)
		return
	}
	l.logger.Info(fmt.Sprintf("For device %d: %v", int(r.Device), r.Value),
		"device_id", int(r.Device),
		"round", r.Round,
		"neighbors", len(r.Neighbors),
		"outbound", r.Outbound,
		"elapsed", r.Elapsed,
	)
}

var _ core.Reporter = (*RoundLogger)(nil)
