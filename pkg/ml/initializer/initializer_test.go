// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package initializer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/ml/context"
)

func TestUniform(t *testing.T) {
	ctx := context.New().WithSeed(1)
	w := Uniform(-0.1, 0.1)(ctx, 50, 40)
	assert.Equal(t, []int{50, 40}, w.Dimensions())
	var maxAbs float64
	for _, v := range w.Flat() {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	assert.LessOrEqual(t, maxAbs, 0.1)
	assert.Greater(t, maxAbs, 0.09)

	assert.Equal(t, []float64{0, 0, 0}, Zero(ctx, 3).Flat())
	assert.Equal(t, []float64{1, 1}, One(ctx, 2).Flat())
}

func TestVarianceScaledUniform(t *testing.T) {
	ctx := context.New().WithSeed(2)
	w := VarianceScaledUniform(ctx, 30, 70)
	limit := math.Sqrt(3.0 / 100.0)
	var maxAbs float64
	for _, v := range w.Flat() {
		require.Less(t, math.Abs(v), limit+1e-12)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	assert.Greater(t, maxAbs, 0.9*limit)

	// Biases are zero.
	assert.Equal(t, []float64{0, 0, 0, 0}, VarianceScaledUniform(ctx, 4).Flat())

	fanIn, fanOut := computeFanInFanOut([]int{30, 70})
	assert.Equal(t, 70, fanIn)
	assert.Equal(t, 30, fanOut)
}
