// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package quant implements the affine int8 quantization used by the models:
//
//	quantized   = round(value / scale) + zero_point, saturated to [-128, 127]
//	dequantized = (quantized - zero_point) * scale
//
// Encode and Decode are pure functions; each model tensor carries its own
// Params.
package quant

import (
	"fmt"
	"math"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// Bounds of the int8 grid. Quantize saturates to these.
const (
	MinInt8 = math.MinInt8
	MaxInt8 = math.MaxInt8
)

// Params binds a scale and zero point to one tensor of one model.
type Params struct {
	Scale     float64 `yaml:"scale" json:"scale"`
	ZeroPoint int     `yaml:"zero_point" json:"zero_point"`
}

// Validate reports whether p can be used for quantization.
func (p Params) Validate() error {
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return fmt.Errorf("quant: scale must be a positive finite number, got %v", p.Scale)
	}
	if p.ZeroPoint < MinInt8 || p.ZeroPoint > MaxInt8 {
		return fmt.Errorf("quant: zero point %d outside int8 range", p.ZeroPoint)
	}
	return nil
}

// Quantize maps v onto the int8 grid described by p.
func Quantize(v float64, p Params) int8 {
	q := math.Round(v/p.Scale) + float64(p.ZeroPoint)
	switch {
	case math.IsNaN(q):
		return int8(clampInt(p.ZeroPoint))
	case q < MinInt8:
		return MinInt8
	case q > MaxInt8:
		return MaxInt8
	}
	return int8(q)
}

// Dequantize is the inverse affine map of Quantize.
func Dequantize(q int8, p Params) float64 {
	return float64(int(q)-p.ZeroPoint) * p.Scale
}

// Encode converts a window into a tensor in row-major (sample, axis) order.
func Encode(w imu.Window, p Params) []int8 {
	out := make([]int8, len(w)*imu.Axes)
	_ = EncodeInto(out, w, p)
	return out
}

// EncodeInto is Encode writing into dst, which must hold len(w)*3 values.
// It lets a caller reuse one tensor across windows.
func EncodeInto(dst []int8, w imu.Window, p Params) error {
	if len(dst) != len(w)*imu.Axes {
		return fmt.Errorf("quant: destination holds %d values, window needs %d", len(dst), len(w)*imu.Axes)
	}
	i := 0
	for _, s := range w {
		for axis := 0; axis < imu.Axes; axis++ {
			dst[i] = Quantize(s.Axis(axis), p)
			i++
		}
	}
	return nil
}

// Decode applies Dequantize element-wise.
func Decode(t []int8, p Params) []float64 {
	out := make([]float64, len(t))
	for i, q := range t {
		out[i] = Dequantize(q, p)
	}
	return out
}

func clampInt(v int) int {
	if v < MinInt8 {
		return MinInt8
	}
	if v > MaxInt8 {
		return MaxInt8
	}
	return v
}
