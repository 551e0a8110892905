// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sample provides various sampling strategies for autoregressive generation.
//
// All strategies take the logits of one step, a vector of unnormalized log-probabilities over the vocabulary,
// and return the index of the selected item.
package sample

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// RNG is an interface for random number generation used by the sampling strategies.
//
// The context.Context implements this interface.
type RNG interface {
	// RandomFloat64 returns a pseudo-random number in [0.0, 1.0).
	RandomFloat64() float64
}

// Strategy represents the different types of sampling available.
type Strategy int

const (
	StrategyGreedy Strategy = iota
	StrategyTemperature
	StrategyTopK
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategyGreedy:
		return "greedy"
	case StrategyTemperature:
		return "temperature"
	case StrategyTopK:
		return "top_k"
	default:
		return "Strategy(unknown)"
	}
}

// ParseStrategy converts a strategy name ("greedy", "temperature" or "top_k") to its Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s := StrategyGreedy; s <= StrategyTopK; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return StrategyGreedy, errors.Errorf("unknown sampling strategy %q, valid values are \"greedy\", \"temperature\" and \"top_k\"", name)
}

// Greedy: select max-logit item. It panics on empty logits.
func Greedy(logits []float64) int {
	if len(logits) == 0 {
		exceptions.Panicf("sample.Greedy: empty logits")
	}
	return floats.MaxIdx(logits)
}

// Temperature: scale the logits by 1/temperature and sample from the resulting categorical distribution.
//
// Lower temperatures sharpen the distribution (more deterministic), higher temperatures flatten it.
// The maximum scaled logit is subtracted before exponentiating, so very low temperatures don't overflow.
//
// If the distribution is degenerate (weights sum to zero, NaN or infinity) it returns index 0 and ok=false,
// so generation can carry on. It panics if temperature <= 0 or logits is empty.
//
// The rng is used for random number generation, a context.Context implements this interface.
func Temperature(rng RNG, logits []float64, temperature float64) (index int, ok bool) {
	if temperature <= 0 {
		exceptions.Panicf("sample.Temperature: temperature must be > 0, got %g", temperature)
	}
	if len(logits) == 0 {
		exceptions.Panicf("sample.Temperature: empty logits")
	}
	weights := make([]float64, len(logits))
	for ii, logit := range logits {
		weights[ii] = logit / temperature
	}
	maxWeight := floats.Max(weights)
	for ii, w := range weights {
		weights[ii] = math.Exp(w - maxWeight)
	}
	return Categorical(rng, weights)
}

// TopKWithTemperature: only consider the k items with highest logits, then sample with temperature.
func TopKWithTemperature(rng RNG, logits []float64, k int, temperature float64) (index int, ok bool) {
	if k <= 0 || k >= len(logits) {
		return Temperature(rng, logits, temperature)
	}
	threshold := slices.Clone(logits)
	sort.Sort(sort.Reverse(sort.Float64Slice(threshold)))
	kth := threshold[k-1]
	// Ties at the threshold fill the room left by the logits above it, in index order.
	tiesLeft := k
	for _, logit := range logits {
		if logit > kth {
			tiesLeft--
		}
	}
	masked := make([]float64, len(logits))
	for ii, logit := range logits {
		switch {
		case logit > kth:
			masked[ii] = logit
		case logit == kth && tiesLeft > 0:
			masked[ii] = logit
			tiesLeft--
		default:
			masked[ii] = math.Inf(-1)
		}
	}
	return Temperature(rng, masked, temperature)
}

// Categorical samples an index with probability proportional to the given non-negative weights.
//
// If the weights don't form a valid distribution (sum is zero, NaN or infinity, or some weight is negative)
// it returns 0 and ok=false.
func Categorical(rng RNG, weights []float64) (index int, ok bool) {
	if len(weights) == 0 {
		return 0, false
	}
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return 0, false
		}
	}
	cumulative := floats.CumSum(make([]float64, len(weights)), weights)
	total := cumulative[len(cumulative)-1]
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return 0, false
	}
	u := rng.RandomFloat64() * total
	index = sort.Search(len(cumulative), func(ii int) bool { return cumulative[ii] > u })
	if index == len(cumulative) {
		// Rounding: take the last item with non-zero weight.
		index = len(cumulative) - 1
		for weights[index] == 0 {
			index--
		}
	}
	return index, true
}

// SampleWithStrategy dispatches to greedy|temperature|top_k.
// ok is false if sampling fell back to index 0 due to a degenerate distribution.
func SampleWithStrategy(rng RNG, logits []float64, strategy Strategy, temperature float64, topK int) (index int, ok bool) {
	switch strategy {
	case StrategyGreedy:
		return Greedy(logits), true
	case StrategyTemperature:
		return Temperature(rng, logits, temperature)
	case StrategyTopK:
		return TopKWithTemperature(rng, logits, topK, temperature)
	default:
		exceptions.Panicf("sample.SampleWithStrategy: unknown strategy %s", strategy)
		return 0, false
	}
}
