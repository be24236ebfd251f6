// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package inference

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/anomaly_detector/internal/quant"
)

// Activation names accepted in model files.
const (
	ActivationNone     = "none"
	ActivationReLU     = "relu"
	ActivationLogistic = "logistic"
	ActivationSoftmax  = "softmax"
)

// Dense is a stack of int8 fully-connected layers described by a YAML
// model file. Weights are per-tensor quantized; biases are int32 with
// scale input_scale*weight_scale and zero point 0.
//
// Dense is stateless across invocations and safe for concurrent use.
type Dense struct {
	name   string
	input  tensorSpec
	layers []layerSpec
}

type denseFile struct {
	Name   string      `yaml:"name"`
	Input  tensorSpec  `yaml:"input"`
	Layers []layerSpec `yaml:"layers"`
}

type tensorSpec struct {
	Length       int `yaml:"length"`
	quant.Params `yaml:",inline"`
}

type layerSpec struct {
	Activation string       `yaml:"activation"`
	Weights    weightSpec   `yaml:"weights"`
	Bias       []int32      `yaml:"bias"`
	Output     quant.Params `yaml:"output"`
}

type weightSpec struct {
	quant.Params `yaml:",inline"`
	Values       [][]int8 `yaml:"values"`
}

// LoadDense reads a model file and charges its tensor memory against arena.
// A nil arena disables the budget check.
func LoadDense(path string, arena *Arena) (*Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	d, err := ParseDense(data, arena)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return d, nil
}

// ParseDense decodes a YAML model description.
func ParseDense(data []byte, arena *Arena) (*Dense, error) {
	var f denseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if f.Name == "" {
		f.Name = "model"
	}
	if f.Input.Length <= 0 {
		return nil, fmt.Errorf("%s: input length must be positive", f.Name)
	}
	if err := f.Input.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%s input: %w", f.Name, err)
	}
	if len(f.Layers) == 0 {
		return nil, fmt.Errorf("%s: no layers", f.Name)
	}

	in := f.Input.Length
	footprint := in
	widest := 0
	for i, l := range f.Layers {
		switch l.Activation {
		case "", ActivationNone, ActivationReLU, ActivationLogistic, ActivationSoftmax:
		default:
			return nil, &StatusError{
				Model:  f.Name,
				Status: StatusOpUnsupported,
				Err:    fmt.Errorf("layer %d: activation %q", i, l.Activation),
			}
		}
		if err := l.Weights.Params.Validate(); err != nil {
			return nil, fmt.Errorf("%s layer %d weights: %w", f.Name, i, err)
		}
		if err := l.Output.Validate(); err != nil {
			return nil, fmt.Errorf("%s layer %d output: %w", f.Name, i, err)
		}
		units := len(l.Weights.Values)
		if units == 0 {
			return nil, fmt.Errorf("%s layer %d: no units", f.Name, i)
		}
		for u, row := range l.Weights.Values {
			if len(row) != in {
				return nil, fmt.Errorf("%s layer %d unit %d: %d weights, want %d", f.Name, i, u, len(row), in)
			}
		}
		if l.Bias != nil && len(l.Bias) != units {
			return nil, fmt.Errorf("%s layer %d: %d biases for %d units", f.Name, i, len(l.Bias), units)
		}
		footprint += units
		widest = max(widest, units)
		in = units
	}
	// int32 accumulators for the widest layer
	footprint += 4 * widest

	if err := arena.Reserve(f.Name, footprint); err != nil {
		return nil, err
	}
	return &Dense{name: f.Name, input: f.Input, layers: f.Layers}, nil
}

// Name is the model name from the file.
func (d *Dense) Name() string { return d.name }

// InputParams implements Engine.
func (d *Dense) InputParams() quant.Params { return d.input.Params }

// InputLen implements Engine.
func (d *Dense) InputLen() int { return d.input.Length }

// OutputLen implements Engine.
func (d *Dense) OutputLen() int { return len(d.layers[len(d.layers)-1].Weights.Values) }

// Invoke implements Engine. The input tensor's params are used to
// interpret its values, so callers may override the file's input params.
func (d *Dense) Invoke(ctx context.Context, in Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	if len(in.Data) != d.input.Length {
		return Tensor{}, &StatusError{
			Model:  d.name,
			Status: StatusGenericFailure,
			Err:    fmt.Errorf("input has %d values, model expects %d", len(in.Data), d.input.Length),
		}
	}
	if err := in.Params.Validate(); err != nil {
		return Tensor{}, &StatusError{Model: d.name, Status: StatusGenericFailure, Err: err}
	}

	x := in
	for _, l := range d.layers {
		x = l.forward(x)
	}
	return x, nil
}

func (l layerSpec) forward(in Tensor) Tensor {
	units := len(l.Weights.Values)
	vals := make([]float64, units)
	accScale := in.Params.Scale * l.Weights.Scale
	for u, row := range l.Weights.Values {
		var acc int64
		for i, w := range row {
			acc += int64(int(in.Data[i])-in.Params.ZeroPoint) * int64(int(w)-l.Weights.ZeroPoint)
		}
		if l.Bias != nil {
			acc += int64(l.Bias[u])
		}
		vals[u] = float64(acc) * accScale
	}

	switch l.Activation {
	case ActivationReLU:
		for i, v := range vals {
			vals[i] = math.Max(0, v)
		}
	case ActivationLogistic:
		for i, v := range vals {
			vals[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationSoftmax:
		softmax(vals)
	}

	out := make([]int8, units)
	for i, v := range vals {
		out[i] = quant.Quantize(v, l.Output)
	}
	return Tensor{Data: out, Params: l.Output}
}

func softmax(v []float64) {
	peak := math.Inf(-1)
	for _, x := range v {
		peak = math.Max(peak, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - peak)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
