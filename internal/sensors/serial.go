// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// lineQueueSize bounds the samples held between the port reader and Read.
// When full the oldest sample is discarded.
const lineQueueSize = 64

// LineSource reads "x,y,z" records from a byte stream, typically a
// microcontroller on a UART. Records are separated by newlines or ';', so
// both one-sample-per-line output and the batched "x,y,z;x,y,z;" dump
// format are accepted.
type LineSource struct {
	rc        io.ReadCloser
	transform Transform
	log       *slog.Logger

	samples chan imu.Sample

	mu      sync.Mutex
	readErr error
	bad     uint64
}

// SerialOptions configures a UART-attached sensor.
type SerialOptions struct {
	Port      string // e.g. /dev/ttyUSB0
	BaudRate  uint
	Transform Transform
	Logger    *slog.Logger
}

// NewSerialSource opens the port and starts reading records from it.
func NewSerialSource(opts SerialOptions) (*LineSource, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        opts.Port,
		BaudRate:        opts.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("serial source: open %s: %w", opts.Port, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("serial sensor opened", "port", opts.Port, "baud", opts.BaudRate)
	return NewLineSource(port, opts.Transform, log), nil
}

// NewLineSource starts reading records from rc.
func NewLineSource(rc io.ReadCloser, t Transform, log *slog.Logger) *LineSource {
	if log == nil {
		log = slog.Default()
	}
	s := &LineSource{
		rc:        rc,
		transform: t,
		log:       log,
		samples:   make(chan imu.Sample, lineQueueSize),
	}
	go s.readLoop()
	return s
}

func (s *LineSource) readLoop() {
	sc := bufio.NewScanner(s.rc)
	sc.Split(splitRecords)
	for sc.Scan() {
		rec := strings.TrimSpace(sc.Text())
		if rec == "" {
			continue
		}
		sample, err := ParseRecord(rec)
		if err != nil {
			s.mu.Lock()
			s.bad++
			s.mu.Unlock()
			s.log.Debug("serial source: bad record", "record", rec, "error", err)
			continue
		}
		s.push(s.transform.Apply(sample))
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *LineSource) push(sample imu.Sample) {
	for {
		select {
		case s.samples <- sample:
			return
		default:
		}
		select {
		case <-s.samples:
		default:
		}
	}
}

// Read implements Source. It returns the oldest queued sample, or
// ErrSensorFault when none is queued.
func (s *LineSource) Read() (imu.Sample, error) {
	select {
	case sample := <-s.samples:
		return sample, nil
	default:
	}
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: serial stream ended: %w", ErrSensorFault, err)
	}
	return imu.Sample{}, fmt.Errorf("%w: no sample available", ErrSensorFault)
}

// BadRecords is the number of records that failed to parse.
func (s *LineSource) BadRecords() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

// Close closes the underlying stream.
func (s *LineSource) Close() error {
	return s.rc.Close()
}

// ParseRecord parses a single "x,y,z" record.
func ParseRecord(rec string) (imu.Sample, error) {
	fields := strings.Split(rec, ",")
	if len(fields) != 3 {
		return imu.Sample{}, fmt.Errorf("record %q: want 3 fields, got %d", rec, len(fields))
	}
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("record %q: %w", rec, err)
		}
		v[i] = x
	}
	return imu.Sample{X: v[0], Y: v[1], Z: v[2]}, nil
}

// splitRecords is a bufio.SplitFunc splitting on '\n' and ';'.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == ';' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
