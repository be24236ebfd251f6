// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package inference defines the boundary to the model execution engine: an
// opaque unit that runs a quantized model on an int8 input tensor and
// yields an int8 output tensor.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/anomaly_detector/internal/quant"
)

// Status is the closed set of engine outcomes. Only StatusOK permits
// reading the output tensor.
type Status int

const (
	StatusOK Status = iota
	StatusAllocationFailed
	StatusOpUnsupported
	StatusGenericFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAllocationFailed:
		return "allocation-failed"
	case StatusOpUnsupported:
		return "op-unsupported"
	case StatusGenericFailure:
		return "generic-failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusError carries a non-ok engine status.
type StatusError struct {
	Model  string
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference %s: %s: %v", e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("inference %s: %s", e.Model, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf extracts the engine status from err. A nil error is StatusOK;
// errors that do not carry a status are StatusGenericFailure.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusGenericFailure
}

// ErrNoOutput is returned when an invocation succeeds but the expected
// output tensor is absent.
var ErrNoOutput = errors.New("inference: output tensor absent")

// Tensor is a flat int8 tensor with the quantization params it was encoded
// with.
type Tensor struct {
	Data   []int8
	Params quant.Params
}

// Engine executes one quantized model.
type Engine interface {
	// Invoke runs the model on in. A non-ok outcome is reported as a
	// *StatusError; a successful call with no output returns ErrNoOutput.
	Invoke(ctx context.Context, in Tensor) (Tensor, error)
	// InputParams are the quantization params of the model's input tensor.
	InputParams() quant.Params
	// InputLen is the number of int8 values the model consumes.
	InputLen() int
	// OutputLen is the number of int8 values the model produces.
	OutputLen() int
}

// Arena is a fixed memory budget shared by the models loaded at start-up.
// Exhausting it is a configuration error reported once, at load time.
type Arena struct {
	size int
	used int
}

// NewArena returns an arena of size bytes.
func NewArena(size int) *Arena {
	return &Arena{size: size}
}

// Reserve charges n bytes for model against the arena.
func (a *Arena) Reserve(model string, n int) error {
	if a == nil {
		return nil
	}
	if a.used+n > a.size {
		return &StatusError{
			Model:  model,
			Status: StatusAllocationFailed,
			Err:    fmt.Errorf("needs %d bytes, %d of %d available", n, a.size-a.used, a.size),
		}
	}
	a.used += n
	return nil
}

// Used is the number of bytes reserved so far.
func (a *Arena) Used() int {
	if a == nil {
		return 0
	}
	return a.used
}
