// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice(t *testing.T) {
	t.Setenv(DeviceEnvVar, "")
	ctx := New()
	assert.Equal(t, DefaultDevice, ctx.Device())
	assert.Equal(t, "context.Context(device=cpu)", ctx.String())
	require.Panics(t, func() { ctx.WithDevice("tpu") })

	t.Setenv(DeviceEnvVar, "gpu")
	require.Panics(t, func() { New() })
}

func TestSeededRandom(t *testing.T) {
	ctx0 := New().WithSeed(42)
	ctx1 := New().WithSeed(42)
	assert.Equal(t, uint64(42), ctx0.Seed())
	for range 10 {
		assert.Equal(t, ctx0.RandomFloat64(), ctx1.RandomFloat64())
	}

	values := make([]float64, 1000)
	ctx0.RandomUniform(values, -0.5, 0.5)
	var sum float64
	for _, v := range values {
		require.GreaterOrEqual(t, v, -0.5)
		require.Less(t, v, 0.5)
		sum += v
	}
	assert.InDelta(t, 0.0, sum/float64(len(values)), 0.05)
}

func TestRandomBernoulli(t *testing.T) {
	ctx := New().WithSeed(7)
	mask := make([]float64, 100_000)
	ctx.RandomBernoulli(mask, 0.13)
	var ones float64
	for _, v := range mask {
		require.True(t, v == 0 || v == 1)
		ones += v
	}
	assert.InDelta(t, 0.13, ones/float64(len(mask)), 0.01)
}
