// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the acceleration magnitude over a window.
type Summary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Peak    float64 `json:"peak"`
}

// Summarize computes magnitude statistics for w. An empty window yields a
// zero Summary.
func Summarize(w Window) Summary {
	if len(w) == 0 {
		return Summary{}
	}
	mags := make([]float64, len(w))
	for i, s := range w {
		mags[i] = s.Norm()
	}
	mean, std := stat.MeanStdDev(mags, nil)
	if len(mags) == 1 {
		std = 0
	}
	return Summary{
		Samples: len(w),
		Mean:    mean,
		StdDev:  std,
		Peak:    floats.Max(mags),
	}
}
