// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// ErrSensorFault marks a read that produced no sample. It is retryable: the
// caller skips the tick and tries again on the next one.
var ErrSensorFault = errors.New("sensor fault")

// Source produces one calibrated 3-axis sample per call. Read returns
// immediately; implementations backed by a stream return ErrSensorFault when
// no sample is ready.
type Source interface {
	Read() (imu.Sample, error)
}

// Closer is implemented by sources that hold a device or port open.
type Closer interface {
	Close() error
}
