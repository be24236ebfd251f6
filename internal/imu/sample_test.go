// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDoesNotAlias(t *testing.T) {
	w := Window{{X: 1}}
	c := w.Clone()
	c[0].X = 9
	assert.Equal(t, 1.0, w[0].X)
	assert.Nil(t, Window(nil).Clone())
}

func TestAxis(t *testing.T) {
	s := Sample{X: 0.1, Y: -0.2, Z: 0.3}
	assert.Equal(t, 0.1, s.Axis(0))
	assert.Equal(t, -0.2, s.Axis(1))
	assert.Equal(t, 0.3, s.Axis(2))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	w := Window{{X: 3, Y: 4}, {Z: 1}}
	got := Summarize(w)
	require.Equal(t, 2, got.Samples)
	assert.InDelta(t, 3.0, got.Mean, 1e-12)
	assert.InDelta(t, 5.0, got.Peak, 1e-12)
	assert.Greater(t, got.StdDev, 0.0)

	one := Summarize(Window{{X: 1}})
	assert.Equal(t, 0.0, one.StdDev)
}
