// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package buffer holds the double buffer shared by the sampling and
// inference tasks.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// ErrSlotFull is returned by Write when the active slot already holds a
// complete window that has not been swapped out yet. The sample is dropped.
var ErrSlotFull = errors.New("buffer: active slot full, sample dropped")

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Writes  uint64 // samples accepted into the active slot
	Dropped uint64 // samples rejected with ErrSlotFull
	Swaps   uint64 // completed swaps
	Pending int    // samples currently in the active slot
}

// Double owns two fixed-capacity slots of one window each.
//
// The sampling task calls Write; the inference task calls TrySwap. mu is
// held only for a single write or a single swap, never while a window is
// being consumed. The window returned by TrySwap belongs to the caller
// until its next TrySwap call and must not be retained past it.
type Double struct {
	mu     sync.Mutex
	slots  [2]imu.Window
	active int // index of the slot being filled
	cursor int // next write position in the active slot

	writes  uint64
	dropped uint64
	swaps   uint64
}

// New allocates a double buffer for windows of length w.
func New(w int) (*Double, error) {
	if w <= 0 {
		return nil, fmt.Errorf("buffer: window length must be positive, got %d", w)
	}
	return &Double{
		slots: [2]imu.Window{make(imu.Window, w), make(imu.Window, w)},
	}, nil
}

// WindowLen is the fixed window length W.
func (d *Double) WindowLen() int {
	return len(d.slots[0])
}

// Write appends s to the active slot. If the slot is already full the
// sample is dropped, counted, and ErrSlotFull is returned; the cursor never
// moves past W.
func (d *Double) Write(s imu.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot := d.slots[d.active]
	if d.cursor >= len(slot) {
		d.dropped++
		return ErrSlotFull
	}
	slot[d.cursor] = s
	d.cursor++
	d.writes++
	return nil
}

// TrySwap exchanges the slot roles if the active slot holds exactly W
// samples and returns the completed window. The new active slot starts
// empty. When the active slot is not yet complete nothing changes and ok is
// false.
func (d *Double) TrySwap() (w imu.Window, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cursor != len(d.slots[d.active]) {
		return nil, false
	}
	done := d.active
	d.active ^= 1
	d.cursor = 0
	d.swaps++
	return d.slots[done], true
}

// Stats returns the current counters.
func (d *Double) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Writes:  d.writes,
		Dropped: d.dropped,
		Swaps:   d.swaps,
		Pending: d.cursor,
	}
}
