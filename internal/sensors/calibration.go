// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// Calibration holds per-axis accelerometer corrections in g, measured in
// the device frame:
//
//	v' = v - offset
//	v' = v' / scale_hi   if v' >= 0
//	v' = v' / -scale_lo  otherwise
//
// scale_lo is negative. A zero scale leaves that half-axis unscaled.
type Calibration struct {
	SchemaVersion int        `json:"schema_version"`
	CalibrationAt string     `json:"calibration_at,omitempty"`
	AccelOffset   imu.Sample `json:"accel_offset"`
	AccelScaleLo  imu.Sample `json:"accel_scale_lo"`
	AccelScaleHi  imu.Sample `json:"accel_scale_hi"`
}

// LoadCalibration reads a calibration file written by the calibration tool.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("invalid calibration file %s: %w", path, err)
	}
	return c, nil
}

// Apply corrects one device-frame sample.
func (c Calibration) Apply(s imu.Sample) imu.Sample {
	return imu.Sample{
		X: correct(s.X, c.AccelOffset.X, c.AccelScaleLo.X, c.AccelScaleHi.X),
		Y: correct(s.Y, c.AccelOffset.Y, c.AccelScaleLo.Y, c.AccelScaleHi.Y),
		Z: correct(s.Z, c.AccelOffset.Z, c.AccelScaleLo.Z, c.AccelScaleHi.Z),
	}
}

func correct(v, offset, lo, hi float64) float64 {
	v -= offset
	if v >= 0 {
		if hi != 0 {
			v /= hi
		}
	} else if lo != 0 {
		v /= -lo
	}
	return v
}

type axisRef struct {
	src  int
	sign float64
}

// AxisMap re-orders and re-signs device axes into the body frame. The zero
// value is the identity.
type AxisMap struct {
	axes [3]axisRef
	set  bool
}

// ParseAxisMap parses a mapping such as "-x,-z,-y", which sets
// body.x = -dev.x, body.y = -dev.z, body.z = -dev.y. Each device axis must
// be used exactly once. An empty string is the identity.
func ParseAxisMap(s string) (AxisMap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AxisMap{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return AxisMap{}, fmt.Errorf("axis map %q: want 3 comma-separated axes", s)
	}
	var m AxisMap
	var used [3]bool
	for i, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		sign := 1.0
		if strings.HasPrefix(p, "-") {
			sign = -1
			p = p[1:]
		} else {
			p = strings.TrimPrefix(p, "+")
		}
		var src int
		switch p {
		case "x":
			src = 0
		case "y":
			src = 1
		case "z":
			src = 2
		default:
			return AxisMap{}, fmt.Errorf("axis map %q: unknown axis %q", s, parts[i])
		}
		if used[src] {
			return AxisMap{}, fmt.Errorf("axis map %q: axis %s used twice", s, p)
		}
		used[src] = true
		m.axes[i] = axisRef{src: src, sign: sign}
	}
	m.set = true
	return m, nil
}

// Apply maps one device-frame sample into the body frame.
func (m AxisMap) Apply(s imu.Sample) imu.Sample {
	if !m.set {
		return s
	}
	return imu.Sample{
		X: m.axes[0].sign * s.Axis(m.axes[0].src),
		Y: m.axes[1].sign * s.Axis(m.axes[1].src),
		Z: m.axes[2].sign * s.Axis(m.axes[2].src),
	}
}

// Transform is the conditioning applied by hardware sources before a sample
// leaves this package: calibration in the device frame, then axis mapping.
type Transform struct {
	Cal  Calibration
	Axes AxisMap
}

// Apply conditions one raw sample.
func (t Transform) Apply(s imu.Sample) imu.Sample {
	return t.Axes.Apply(t.Cal.Apply(s))
}
