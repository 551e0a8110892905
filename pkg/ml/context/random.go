// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

// RandomFloat64 returns a pseudo-random number in the half-open interval [0.0, 1.0).
func (ctx *Context) RandomFloat64() float64 {
	ctx.muRNG.Lock()
	defer ctx.muRNG.Unlock()
	return ctx.rng.Float64()
}

// RandomUniform fills values with pseudo-random numbers in the half-open interval [minValue, maxValue).
func (ctx *Context) RandomUniform(values []float64, minValue, maxValue float64) {
	ctx.muRNG.Lock()
	defer ctx.muRNG.Unlock()
	width := maxValue - minValue
	for ii := range values {
		values[ii] = minValue + width*ctx.rng.Float64()
	}
}

// RandomBernoulli fills mask with 1 with probability prob and with 0 otherwise.
func (ctx *Context) RandomBernoulli(mask []float64, prob float64) {
	ctx.muRNG.Lock()
	defer ctx.muRNG.Unlock()
	for ii := range mask {
		if ctx.rng.Float64() < prob {
			mask[ii] = 1
		} else {
			mask[ii] = 0
		}
	}
}
