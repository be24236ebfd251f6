// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cascade turns one completed window into one result code by
// running a chain of quantized models, each gating the next.
//
// The reference deployment is a two-stage chain: a cheap binary detector
// (Gate) in front of a multi-class classifier (ArgMax). A single-stage
// chain with only the classifier is also valid. Evaluation carries no
// state between windows.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
	"github.com/relabs-tech/anomaly_detector/internal/inference"
	"github.com/relabs-tech/anomaly_detector/internal/quant"
)

// Code is a discrete cascade outcome. NoAnomaly is 0; classes are 1..N.
type Code int

const NoAnomaly Code = 0

// Result is the outcome for one window.
type Result struct {
	Code Code `json:"code"`
	// Confidence is the winning class's decoded output for multi-class
	// results.
	Confidence float64 `json:"confidence,omitempty"`
	// Score is the gate value that decided a binary stage, if any.
	Score float64 `json:"score,omitempty"`
	// Scores holds the decoded classifier outputs.
	Scores []float64 `json:"scores,omitempty"`
	// Stages is the number of models invoked.
	Stages int `json:"stages"`
}

// ErrSkipped marks a window whose result could not be produced because an
// engine failed. The window is dropped; the next one supersedes it.
var ErrSkipped = errors.New("cascade: window skipped")

// Stage binds one model to the params used to encode its input and the rule
// that routes its output.
type Stage struct {
	Name   string
	Engine inference.Engine
	// Input overrides the engine's input params when Scale is non-zero.
	Input quant.Params
	Rule  Rule
}

func (s Stage) inputParams() quant.Params {
	if s.Input.Scale != 0 {
		return s.Input
	}
	return s.Engine.InputParams()
}

// Cascade evaluates stages in order until a rule terminates. Each stage
// reuses one input tensor across windows, so Evaluate must not be called
// concurrently and engines must not retain the input after Invoke returns.
type Cascade struct {
	stages []Stage
	inputs [][]int8
	log    *slog.Logger
}

// New validates and assembles a cascade. A nil logger uses slog.Default().
func New(log *slog.Logger, stages ...Stage) (*Cascade, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("cascade: at least one stage required")
	}
	if log == nil {
		log = slog.Default()
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			s.Name = fmt.Sprintf("stage%d", i)
		}
		if s.Engine == nil {
			return nil, fmt.Errorf("cascade: stage %s has no engine", s.Name)
		}
		if s.Rule == nil {
			return nil, fmt.Errorf("cascade: stage %s has no rule", s.Name)
		}
		if err := s.inputParams().Validate(); err != nil {
			return nil, fmt.Errorf("cascade: stage %s input: %w", s.Name, err)
		}
		out[i] = s
	}
	return &Cascade{stages: out, inputs: make([][]int8, len(out)), log: log}, nil
}

// CheckWindow verifies every stage consumes a window of w samples.
func (c *Cascade) CheckWindow(w int) error {
	for _, s := range c.stages {
		if got := s.Engine.InputLen(); got != w*imu.Axes {
			return fmt.Errorf("cascade: stage %s expects %d input values, window of %d samples has %d",
				s.Name, got, w, w*imu.Axes)
		}
	}
	return nil
}

// Stages returns the number of configured stages.
func (c *Cascade) Stages() int { return len(c.stages) }

// Evaluate runs the cascade over w. Any engine fault, non-ok status or
// missing output yields an error wrapping ErrSkipped and no result.
func (c *Cascade) Evaluate(ctx context.Context, w imu.Window) (Result, error) {
	var provisional Result
	for i, s := range c.stages {
		in, err := c.encode(i, w)
		if err != nil {
			return Result{}, fmt.Errorf("%w: stage %s: %w", ErrSkipped, s.Name, err)
		}

		out, err := s.Engine.Invoke(ctx, in)
		if err != nil {
			return Result{}, fmt.Errorf("%w: stage %s (%s): %w", ErrSkipped, s.Name, inference.StatusOf(err), err)
		}
		if len(out.Data) == 0 {
			return Result{}, fmt.Errorf("%w: stage %s: %w", ErrSkipped, s.Name, inference.ErrNoOutput)
		}

		decoded := quant.Decode(out.Data, out.Params)
		c.log.Debug("stage output", "stage", s.Name, "output", decoded)

		d, err := s.Rule.Decide(decoded)
		if err != nil {
			return Result{}, fmt.Errorf("%w: stage %s: %w", ErrSkipped, s.Name, err)
		}
		d.Result.Stages = i + 1
		if !d.Continue {
			return d.Result, nil
		}
		provisional = d.Result
	}
	return provisional, nil
}

// encode quantizes w into stage i's input tensor, sizing it on first use.
func (c *Cascade) encode(i int, w imu.Window) (inference.Tensor, error) {
	p := c.stages[i].inputParams()
	if n := len(w) * imu.Axes; len(c.inputs[i]) != n {
		c.inputs[i] = make([]int8, n)
	}
	if err := quant.EncodeInto(c.inputs[i], w, p); err != nil {
		return inference.Tensor{}, err
	}
	return inference.Tensor{Data: c.inputs[i], Params: p}, nil
}
