// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

func TestSparseCategoricalCrossEntropyLogits(t *testing.T) {
	logits := tensors.FromValue([][]float64{
		{0, 0, 0, 0},
		{10, 0, 0, 0},
		{1000, 0, -1000, 0},
	})
	got := SparseCategoricalCrossEntropyLogits([]int{2, 0, 1}, logits)
	require.Len(t, got, 3)
	assert.InDelta(t, math.Log(4), got[0], 1e-12)
	assert.InDelta(t, math.Log(1+3*math.Exp(-10)), got[1], 1e-12)
	assert.InDelta(t, 1000.0, got[2], 1e-9)

	// Masked example contributes nothing.
	got = SparseCategoricalCrossEntropyLogits([]int{MaskedLabel, 0, 1}, logits)
	assert.Equal(t, 0.0, got[0])

	mean := MeanSparseCategoricalCrossEntropyLogits([]int{0, MaskedLabel, 0}, logits)
	assert.InDelta(t, math.Log(4)/2, mean, 1e-12)
	assert.True(t, math.IsNaN(MeanSparseCategoricalCrossEntropyLogits([]int{MaskedLabel}, logits.Slice(0, 1))))

	// Higher rank logits: [2, 1, 4]
	got = SparseCategoricalCrossEntropyLogits([]int{3, 0}, logits.Slice(0, 2).Reshape(2, 1, 4))
	assert.InDelta(t, math.Log(4), got[0], 1e-12)

	require.Panics(t, func() { SparseCategoricalCrossEntropyLogits([]int{4, 0, 0}, logits) })
	require.Panics(t, func() { SparseCategoricalCrossEntropyLogits([]int{0}, logits) })
}
