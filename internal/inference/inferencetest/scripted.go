// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package inferencetest provides a scripted inference.Engine for tests.
package inferencetest

import (
	"context"
	"sync"

	"github.com/relabs-tech/anomaly_detector/internal/inference"
	"github.com/relabs-tech/anomaly_detector/internal/quant"
)

// Step is one scripted invocation outcome. Output holds decoded values that
// are quantized with the engine's output params; Err is returned as is;
// NoOutput makes the call succeed with an empty tensor.
type Step struct {
	Output   []float64
	Err      error
	NoOutput bool
}

// Scripted replays queued steps. The last queued step repeats once the
// queue is drained.
type Scripted struct {
	In     quant.Params
	Out    quant.Params
	InLen  int
	OutLen int

	mu     sync.Mutex
	steps  []Step
	inputs [][]int8
}

// New returns an engine with the given tensor shapes and params.
func New(inLen int, in quant.Params, outLen int, out quant.Params, steps ...Step) *Scripted {
	return &Scripted{In: in, Out: out, InLen: inLen, OutLen: outLen, steps: steps}
}

// Push appends steps to the queue.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Calls is the number of Invoke calls so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// Inputs returns a copy of every input tensor received, in call order.
func (s *Scripted) Inputs() [][]int8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int8, len(s.inputs))
	copy(out, s.inputs)
	return out
}

func (s *Scripted) InputParams() quant.Params { return s.In }
func (s *Scripted) InputLen() int             { return s.InLen }
func (s *Scripted) OutputLen() int            { return s.OutLen }

func (s *Scripted) Invoke(_ context.Context, in inference.Tensor) (inference.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, append([]int8(nil), in.Data...))

	var step Step
	switch len(s.steps) {
	case 0:
		return inference.Tensor{}, &inference.StatusError{Model: "scripted", Status: inference.StatusGenericFailure}
	case 1:
		step = s.steps[0]
	default:
		step = s.steps[0]
		s.steps = s.steps[1:]
	}

	if step.Err != nil {
		return inference.Tensor{}, step.Err
	}
	if step.NoOutput {
		return inference.Tensor{Params: s.Out}, nil
	}
	data := make([]int8, len(step.Output))
	for i, v := range step.Output {
		data[i] = quant.Quantize(v, s.Out)
	}
	return inference.Tensor{Data: data, Params: s.Out}, nil
}
