// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cascade

import "fmt"

// Decision is what a Rule concludes from one stage's decoded output.
// When Continue is set the next stage runs; Result is then provisional and
// becomes final only if no further stage exists.
type Decision struct {
	Result   Result
	Continue bool
}

// Rule routes a stage's decoded output.
type Rule interface {
	Decide(out []float64) (Decision, error)
}

// Gate is a binary detector rule. The first output value, multiplied by
// Scale, is compared with Threshold: strictly below terminates with
// NoAnomaly, otherwise evaluation continues.
type Gate struct {
	Threshold float64
	// Scale multiplies the decoded value before the comparison. Zero means 1.
	Scale float64
}

func (g Gate) Decide(out []float64) (Decision, error) {
	if len(out) == 0 {
		return Decision{}, fmt.Errorf("gate: empty output")
	}
	scale := g.Scale
	if scale == 0 {
		scale = 1
	}
	v := out[0] * scale
	if v < g.Threshold {
		return Decision{Result: Result{Code: NoAnomaly, Score: v}}, nil
	}
	return Decision{Result: Result{Code: 1, Confidence: v, Score: v}, Continue: true}, nil
}

// ArgMax is a multi-class rule. It selects the index of the largest value,
// first occurrence winning ties, and reports code index+1 with that value
// as confidence.
type ArgMax struct{}

func (ArgMax) Decide(out []float64) (Decision, error) {
	if len(out) == 0 {
		return Decision{}, fmt.Errorf("argmax: empty output")
	}
	best := 0
	for i := 1; i < len(out); i++ {
		if out[i] > out[best] {
			best = i
		}
	}
	return Decision{Result: Result{
		Code:       Code(best + 1),
		Confidence: out[best],
		Scores:     append([]float64(nil), out...),
	}}, nil
}
