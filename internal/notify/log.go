// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import "log/slog"

// LogSink writes each payload to a structured logger at info level.
type LogSink struct {
	Log *slog.Logger
}

// Send implements Sink.
func (s LogSink) Send(payload []byte) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify", "payload", string(payload))
}
