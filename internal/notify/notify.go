// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package notify delivers one message per evaluated window to remote
// subscribers. Delivery is best effort: nothing here blocks the caller on a
// slow or absent receiver, and failures are logged, never returned.
package notify

import (
	"log/slog"
	"time"

	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// Message is the structured outcome of one window.
type Message struct {
	Seq    uint64
	Time   time.Time
	Result cascade.Result
	Window imu.Window
}

// Sink accepts an already-encoded payload. Send must not block on delivery.
type Sink interface {
	Send(payload []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(payload []byte)

// Send implements Sink.
func (f SinkFunc) Send(payload []byte) { f(payload) }

// Notifier accepts structured messages. Sinks that render results
// themselves, such as the OLED, implement it directly.
type Notifier interface {
	Notify(m Message)
}

// Encoded serializes messages with Enc and forwards them to Sink.
type Encoded struct {
	Enc  Encoder
	Sink Sink
	Log  *slog.Logger
}

// Notify implements Notifier.
func (e Encoded) Notify(m Message) {
	payload, err := e.Enc.Encode(m)
	if err != nil {
		log := e.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("notify: encode failed", "seq", m.Seq, "error", err)
		return
	}
	e.Sink.Send(payload)
}

// Multi fans a message out to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (mn Multi) Notify(m Message) {
	for _, n := range mn {
		n.Notify(m)
	}
}

// Discard drops every message.
var Discard Notifier = Multi(nil)
