// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "math"

// Axes is the number of values carried by one Sample.
const Axes = 3

// Sample is one calibrated 3-axis accelerometer reading, in g.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Axis returns the value of axis i (0=x, 1=y, 2=z).
func (s Sample) Axis(i int) float64 {
	switch i {
	case 0:
		return s.X
	case 1:
		return s.Y
	default:
		return s.Z
	}
}

// Norm is the L2 magnitude of the sample.
func (s Sample) Norm() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Window is an ordered, fixed-length batch of samples consumed by one
// inference cycle. Index 0 is the oldest sample.
type Window []Sample

// Clone returns a copy that does not alias the receiver's storage.
func (w Window) Clone() Window {
	if w == nil {
		return nil
	}
	out := make(Window, len(w))
	copy(out, w)
	return out
}
