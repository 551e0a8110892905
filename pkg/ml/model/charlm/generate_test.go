// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm_test

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/ml/context/ctxtest"
	"github.com/gomlx/charlm/pkg/ml/decode/sample"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
	"github.com/gomlx/charlm/pkg/ml/model/charlm/charlmtest"
)

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func TestGenerateABCycle(t *testing.T) {
	lm := charlmtest.NewABCycle(ctxtest.New())
	text, avgLogProb, err := lm.Generate("a", 4, 0.01, "")
	require.NoError(t, err)
	assert.Equal(t, "ababa", text)
	assert.InDelta(t, charlmtest.ABCycleLogit, avgLogProb, 0.01)

	// Deterministic whatever the seed.
	for seed := range uint64(5) {
		lm.Context().WithSeed(seed)
		again, _, err := lm.Generate("a", 4, 0.01, "")
		require.NoError(t, err)
		assert.Equal(t, text, again)
	}

	// The prefix is primed: only its last character matters for this model.
	text, _, err = lm.Generate("b b\nab", 3, 0.01, "")
	require.NoError(t, err)
	assert.Equal(t, "b b\nababa", text)

	// Empty prefix starts from "\n".
	text, _, err = lm.Generate("", 3, 0.01, "")
	require.NoError(t, err)
	assert.Equal(t, "\naba", text)

	// Stop suffix only matches the generated text.
	text, _, err = lm.Generate("a", 50, 0.01, "ba")
	require.NoError(t, err)
	assert.Equal(t, "aba", text)
	text, _, err = lm.Generate("ab", 50, 0.01, "ab")
	require.NoError(t, err)
	assert.Equal(t, "abab", text)
}

func TestGenerateErrors(t *testing.T) {
	lm := charlmtest.NewABCycle(ctxtest.New())
	_, _, err := lm.Generate("a", 4, 0, "")
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))
	_, _, err = lm.Generate("a", 4, -1, "")
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))
	_, _, err = lm.Generate("a", -1, 1, "")
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))

	text, avgLogProb, err := lm.Generate("ab", 0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, 0.0, avgLogProb)
	text, _, err = lm.Generate("", 0, 1, "")
	require.NoError(t, err)
	assert.Equal(t, charlm.DefaultPrefix, text)
}

func TestGenerateWithSampling(t *testing.T) {
	lm := charlmtest.NewABCycle(ctxtest.New())
	for _, sampling := range []charlm.Sampling{
		{Strategy: sample.StrategyGreedy},
		{Strategy: sample.StrategyTemperature, Temperature: 0.01},
		{Strategy: sample.StrategyTopK, Temperature: 100, TopK: 1},
	} {
		text, avgLogProb, err := lm.GenerateWith("a", 4, sampling, "")
		require.NoError(t, err)
		assert.Equalf(t, "ababa", text, "sampling %+v", sampling)
		assert.InDelta(t, charlmtest.ABCycleLogit, avgLogProb, 0.01)
	}

	// Greedy ignores the temperature, and stops at the suffix like any other strategy.
	text, _, err := lm.GenerateWith("b", 50, charlm.Sampling{Strategy: sample.StrategyGreedy}, "bab")
	require.NoError(t, err)
	assert.Equal(t, "babab", text)

	// After "a" the logits are ~[0, 0, 7.46, 0]: top-2 keeps "b" and the first of the tied items.
	counts := make(map[string]int)
	for range 200 {
		text, _, err := lm.GenerateWith("a", 1, charlm.Sampling{Strategy: sample.StrategyTopK, Temperature: 1000, TopK: 2}, "")
		require.NoError(t, err)
		counts[text]++
	}
	assert.Len(t, counts, 2)
	assert.Positive(t, counts["ab"])
	assert.Positive(t, counts["a\n"])

	for _, sampling := range []charlm.Sampling{
		{Strategy: sample.StrategyTemperature},
		{Strategy: sample.StrategyTopK, Temperature: 1, TopK: -1},
		{Strategy: sample.Strategy(7), Temperature: 1},
	} {
		_, _, err := lm.GenerateWith("a", 4, sampling, "")
		assert.Truef(t, errors.Is(err, charlm.ErrInvalidInput), "sampling %+v: unexpected error %v", sampling, err)
	}
}

func TestGenerateLength(t *testing.T) {
	for _, direction := range []charlm.Direction{charlm.Forward, charlm.Backward} {
		t.Run(direction.String(), func(t *testing.T) {
			lm := charlmtest.NewTiny(ctxtest.New(), direction)
			text, _, err := lm.Generate("a", 50, 1.0, "")
			require.NoError(t, err)
			assert.Equal(t, 51, utf8.RuneCountInString(text))
			if direction == charlm.Forward {
				assert.True(t, strings.HasPrefix(text, "a"))
			} else {
				assert.True(t, strings.HasSuffix(text, "a"))
			}

			// With a stop suffix: either the full length without the suffix in the generated text, or
			// the generated text ends at its first occurrence.
			for _, suffix := range []string{" ", "e", "\n"} {
				text, _, err := lm.Generate("a", 50, 1.0, suffix)
				require.NoError(t, err)
				if direction == charlm.Backward {
					text = reverse(text)
				}
				generated := text[1:]
				first := strings.Index(generated, suffix)
				if first < 0 {
					assert.Equal(t, 50, len(generated))
				} else {
					assert.Equal(t, len(generated)-len(suffix), first, "text=%q, suffix=%q", text, suffix)
				}
			}
		})
	}
}

func TestGenerateDirectionSymmetry(t *testing.T) {
	backward := charlmtest.NewTiny(ctxtest.New(), charlm.Backward)
	forward := withDirection(t, backward, charlm.Forward)
	for ii, prefix := range []string{"Hello", "a", "", "The quick brown fox"} {
		seed := uint64(ii + 1)
		backward.Context().WithSeed(seed)
		want, wantLogProb, err := backward.Generate(prefix, 30, 0.8, "")
		require.NoError(t, err)

		forwardPrefix := reverse(prefix)
		if prefix == "" {
			forwardPrefix = charlm.DefaultPrefix
		}
		forward.Context().WithSeed(seed)
		got, gotLogProb, err := forward.Generate(forwardPrefix, 30, 0.8, "")
		require.NoError(t, err)
		assert.Equal(t, want, reverse(got), "prefix %q", prefix)
		assert.Equal(t, wantLogProb, gotLogProb)
	}

	// Stop suffixes are also in natural reading order.
	backward.Context().WithSeed(11)
	want, _, err := backward.Generate("xyz", 200, 1.5, "e ")
	require.NoError(t, err)
	forward.Context().WithSeed(11)
	got, _, err := forward.Generate("zyx", 200, 1.5, " e")
	require.NoError(t, err)
	assert.Equal(t, want, reverse(got))
}

// entropy of the empirical distribution of the counts.
func entropy(counts map[string]int) float64 {
	var total int
	for _, count := range counts {
		total += count
	}
	var h float64
	for _, count := range counts {
		p := float64(count) / float64(total)
		h -= p * math.Log(p)
	}
	return h
}

func TestGenerateTemperature(t *testing.T) {
	lm := charlmtest.NewABCycle(ctxtest.New())
	const numSamples = 4000
	var previous float64
	for ii, temperature := range []float64{0.01, 3, 10, 100} {
		counts := make(map[string]int)
		for range numSamples {
			text, _, err := lm.Generate("a", 1, temperature, "")
			require.NoError(t, err)
			counts[text[1:]]++
		}
		h := entropy(counts)
		if ii == 0 {
			// Converges to argmax.
			assert.Equal(t, map[string]int{"b": numSamples}, counts)
			assert.Equal(t, 0.0, h)
		} else {
			assert.Greaterf(t, h, previous, "entropy for temperature %g", temperature)
		}
		previous = h
	}
	assert.LessOrEqual(t, previous, math.Log(4))
}
