// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// MockSource generates a smooth gravity-dominated signal with a slow wobble,
// for running the pipeline without hardware.
type MockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a mock source driven by the wall clock.
func NewMockSource() *MockSource {
	return NewMockSourceWithClock(time.Now)
}

// NewMockSourceWithClock creates a mock source driven by now.
func NewMockSourceWithClock(now func() time.Time) *MockSource {
	return &MockSource{start: now(), now: now}
}

// Read implements Source.
func (m *MockSource) Read() (imu.Sample, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	return imu.Sample{
		X: 0.2 * math.Sin(elapsed),
		Y: 0.15 * math.Cos(elapsed*0.7),
		Z: 1 + 0.05*math.Sin(elapsed*3),
	}, nil
}
