// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// accelLSBPerG is the accelerometer sensitivity per full-scale range
// setting (0=±2g, 1=±4g, 2=±8g, 3=±16g).
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}

// MPU9250Options configures the SPI-attached accelerometer.
type MPU9250Options struct {
	SPIDevice  string // e.g. /dev/spidev0.0
	CSPin      string // GPIO name of the chip-select line
	AccelRange byte   // 0-3
	Transform  Transform
	Logger     *slog.Logger
}

// MPU9250Source reads the accelerometer of an MPU9250 over SPI.
type MPU9250Source struct {
	imu       *mpu9250.MPU9250
	lsbPerG   float64
	transform Transform
}

// NewMPU9250Source initializes the device, applies the configured range and
// runs the on-chip self-test and bias calibration. Self-test and
// calibration failures are logged, not fatal.
func NewMPU9250Source(opts MPU9250Options) (*MPU9250Source, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.AccelRange > 3 {
		return nil, fmt.Errorf("IMU: accel range must be 0-3, got %d", opts.AccelRange)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", opts.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", opts.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if res, err := dev.SelfTest(); err != nil {
		log.Warn("IMU self-test failed", "error", err)
	} else {
		log.Info("IMU self-test passed",
			"accel_dev_x", res.AccelDeviation.X,
			"accel_dev_y", res.AccelDeviation.Y,
			"accel_dev_z", res.AccelDeviation.Z)
	}
	if err := dev.Calibrate(); err != nil {
		log.Warn("IMU calibration failed", "error", err)
	}

	// Range is applied after Calibrate, which reprograms the full-scale
	// registers while it runs.
	if err := dev.SetAccelRange(opts.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Info("IMU ready",
		"spi", opts.SPIDevice,
		"cs", opts.CSPin,
		"range_g", []int{2, 4, 8, 16}[opts.AccelRange])

	return &MPU9250Source{
		imu:       dev,
		lsbPerG:   accelLSBPerG[opts.AccelRange],
		transform: opts.Transform,
	}, nil
}

// Read implements Source. Bus errors are reported as ErrSensorFault and
// leave no partial sample behind.
func (s *MPU9250Source) Read() (imu.Sample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: IMU accel X: %w", ErrSensorFault, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: IMU accel Y: %w", ErrSensorFault, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: IMU accel Z: %w", ErrSensorFault, err)
	}
	return s.transform.Apply(CountsToG(ax, ay, az, s.lsbPerG)), nil
}

// CountsToG converts raw accelerometer counts to g.
func CountsToG(ax, ay, az int16, lsbPerG float64) imu.Sample {
	return imu.Sample{
		X: float64(ax) / lsbPerG,
		Y: float64(ay) / lsbPerG,
		Z: float64(az) / lsbPerG,
	}
}
