// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ctxtest holds test utilities for packages that depend on context package. It allows
// for easy running tests on functions that depends on context.Context objects, with a deterministic
// random number generator.
package ctxtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
)

// DefaultSeed used by New.
const DefaultSeed = 42

// New returns a context on the default device seeded with DefaultSeed, so tests are reproducible.
func New() *context.Context {
	return context.New().WithDevice(context.DefaultDevice).WithSeed(DefaultSeed)
}

// TestContextFn should build its own inputs, and return the outputs to be checked.
type TestContextFn func(ctx *context.Context) (outputs []*tensors.Tensor)

// RunTestFn tests fn by executing it with a fresh context from New and comparing
// its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunTestFn(t *testing.T, testName string, fn TestContextFn, want []*tensors.Tensor, delta float64) {
	ctx := New()
	var outputs []*tensors.Tensor
	require.NotPanicsf(t, func() { outputs = fn(ctx) }, "%s: failed to run test function", testName)
	fmt.Printf("\t%s:\n", testName)
	for ii, output := range outputs {
		fmt.Printf("\t\toutput[%d]=%s\n", ii, output)
	}
	require.Lenf(t, outputs, len(want), "%s: number of outputs", testName)
	for ii, output := range outputs {
		RequireInDelta(t, want[ii], output, delta, "%s: output #%d", testName, ii)
	}
}

// RequireInDelta fails the test if got and want don't have the same dimensions, or if any of their values
// differ by more than delta. If delta <= 0, values must be exactly equal.
func RequireInDelta(t *testing.T, want, got *tensors.Tensor, delta float64, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want.Dimensions(), got.Dimensions(), msgAndArgs...)
	if delta <= 0 {
		require.Equal(t, want.Flat(), got.Flat(), msgAndArgs...)
		return
	}
	require.InDeltaSlice(t, want.Flat(), got.Flat(), delta, msgAndArgs...)
}
