// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// Encoder turns a message into a UTF-8 payload. Every format uses ';' as
// the record terminator.
type Encoder interface {
	Encode(m Message) ([]byte, error)
}

// CodeEncoder writes the decimal result code, e.g. "2;".
type CodeEncoder struct{}

// Encode implements Encoder.
func (CodeEncoder) Encode(m Message) ([]byte, error) {
	b := strconv.AppendInt(nil, int64(m.Result.Code), 10)
	return append(b, ';'), nil
}

// SamplesEncoder writes the raw window, one "x,y,z;" record per sample with
// six decimals per field.
type SamplesEncoder struct{}

// Encode implements Encoder.
func (SamplesEncoder) Encode(m Message) ([]byte, error) {
	if len(m.Window) == 0 {
		return nil, fmt.Errorf("samples payload: message %d has no window", m.Seq)
	}
	b := make([]byte, 0, len(m.Window)*30)
	for _, s := range m.Window {
		b = strconv.AppendFloat(b, s.X, 'f', 6, 64)
		b = append(b, ',')
		b = strconv.AppendFloat(b, s.Y, 'f', 6, 64)
		b = append(b, ',')
		b = strconv.AppendFloat(b, s.Z, 'f', 6, 64)
		b = append(b, ';')
	}
	return b, nil
}

// JSONMessage is the wire form written by JSONEncoder and read back by the
// console and web relay.
type JSONMessage struct {
	Seq        uint64       `json:"seq"`
	Time       time.Time    `json:"time"`
	Code       cascade.Code `json:"code"`
	Confidence float64      `json:"confidence"`
	Score      float64      `json:"score"`
	Scores     []float64    `json:"scores,omitempty"`
	Stages     int          `json:"stages"`
	Summary    *imu.Summary `json:"summary,omitempty"`
}

// JSONEncoder writes a JSONMessage. The trailing ';' keeps the record
// separator uniform across formats.
type JSONEncoder struct{}

// Encode implements Encoder.
func (JSONEncoder) Encode(m Message) ([]byte, error) {
	jm := JSONMessage{
		Seq:        m.Seq,
		Time:       m.Time,
		Code:       m.Result.Code,
		Confidence: m.Result.Confidence,
		Score:      m.Result.Score,
		Scores:     m.Result.Scores,
		Stages:     m.Result.Stages,
	}
	if len(m.Window) > 0 {
		s := imu.Summarize(m.Window)
		jm.Summary = &s
	}
	b, err := json.Marshal(jm)
	if err != nil {
		return nil, fmt.Errorf("json payload: %w", err)
	}
	return append(b, ';'), nil
}

// EncoderByName returns the encoder for a PAYLOAD_FORMAT value.
func EncoderByName(name string) (Encoder, error) {
	switch name {
	case "", "code":
		return CodeEncoder{}, nil
	case "samples":
		return SamplesEncoder{}, nil
	case "json":
		return JSONEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown payload format %q", name)
}
