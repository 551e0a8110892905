// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivations(t *testing.T) {
	x := func() []float64 { return []float64{-1000, -1, 0, 1, 1000} }

	got := x()
	SigmoidSlice(got)
	assert.InDeltaSlice(t, []float64{0, 1 / (1 + math.E), 0.5, 1 / (1 + math.Exp(-1)), 1}, got, 1e-12)
	for _, v := range got {
		require.False(t, math.IsNaN(v))
	}

	got = x()
	TanhSlice(got)
	assert.InDeltaSlice(t, []float64{-1, math.Tanh(-1), 0, math.Tanh(1), 1}, got, 1e-12)

	// Only the given block is changed.
	row := x()
	SigmoidSlice(row[2:4])
	assert.Equal(t, []float64{-1000, -1, 0.5, 1 / (1 + math.Exp(-1)), 1000}, row)
}
