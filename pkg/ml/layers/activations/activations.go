// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the activations used by recurrent layers.
//
// They work in place on slices of values, so they can be applied to the gate blocks of a row of a tensor.
package activations

import "math"

// SigmoidSlice applies 1/(1+exp(-v)) in place on a slice of values.
func SigmoidSlice(values []float64) {
	for ii, v := range values {
		values[ii] = sigmoid(v)
	}
}

// TanhSlice applies tanh in place on a slice of values.
func TanhSlice(values []float64) {
	for ii, v := range values {
		values[ii] = math.Tanh(v)
	}
}

// sigmoid is numerically stable for large negative inputs.
func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}
