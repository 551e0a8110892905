// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer includes several weight initializers, used when a model allocates its parameters.
package initializer

import (
	"math"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
)

// Initializer returns a new tensor with the given dimensions, to be used as the initial value of a parameter.
// Any randomness is drawn from the context.
type Initializer func(ctx *context.Context, dimensions ...int) *tensors.Tensor

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(_ *context.Context, dimensions ...int) *tensors.Tensor {
		return tensors.Zeros(dimensions...)
	}

	// One initializes variables with one.
	One Initializer = func(_ *context.Context, dimensions ...int) *tensors.Tensor {
		return tensors.FromScalarAndDimensions(1, dimensions...)
	}
)

// Uniform returns an initializer that generates random uniform values from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	return func(ctx *context.Context, dimensions ...int) *tensors.Tensor {
		t := tensors.Zeros(dimensions...)
		ctx.RandomUniform(t.Flat(), minValue, maxValue)
		return t
	}
}

// Symmetric returns an initializer that generates random uniform values from [-limit, limit).
func Symmetric(limit float64) Initializer {
	return Uniform(-limit, limit)
}

// VarianceScaledUniform initializes a weight matrix with random uniform values in the range `[-limit, limit)`,
// where `limit = sqrt(3 / (fanIn + fanOut))`.
//
// It keeps the energy of the mean output stable across a linear projection, and it's used for bottleneck
// projections. It initializes biases (anything with rank <= 1) to zeros.
func VarianceScaledUniform(ctx *context.Context, dimensions ...int) *tensors.Tensor {
	if len(dimensions) <= 1 {
		return Zero(ctx, dimensions...)
	}
	fanIn, fanOut := computeFanInFanOut(dimensions)
	limit := math.Sqrt(3.0 / float64(max(1, fanIn+fanOut)))
	return Symmetric(limit)(ctx, dimensions...)
}

// computeFanInFanOut of a matrix stored as [outputs, inputs], the layout of layers.Dense weights.
func computeFanInFanOut(dimensions []int) (fanIn, fanOut int) {
	rank := len(dimensions)
	switch rank {
	case 0:
		return 1, 1
	case 1:
		return 0, 0
	default:
		receptiveFieldSize := 1
		for _, dim := range dimensions[:rank-2] {
			receptiveFieldSize *= dim
		}
		fanOut = dimensions[rank-2] * receptiveFieldSize
		fanIn = dimensions[rank-1] * receptiveFieldSize
	}
	return
}
