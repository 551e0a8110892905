// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm_test

import (
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context/ctxtest"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
	"github.com/gomlx/charlm/pkg/ml/model/charlm/charlmtest"
)

// positionsOf returns the values of representation at the given example, for positions [0, length).
func positionsOf(representation *tensors.Tensor, example, length int) [][]float64 {
	features := representation.Dim(2)
	values := make([][]float64, length)
	for pos := range length {
		values[pos] = make([]float64, features)
		for f := range features {
			values[pos][f] = representation.At(pos, example, f)
		}
	}
	return values
}

func TestRepresentShapes(t *testing.T) {
	lm := charlmtest.NewTiny(ctxtest.New(), charlm.Forward)
	features := lm.Config().RepresentationSize()

	output, err := lm.Represent([]string{"ab", "abcd"}, "\n", " ", charlm.DefaultCharsPerChunk)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 2, features}, output.Dimensions())

	output, err = lm.Represent([]string{"", ""}, "", "", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, features}, output.Dimensions())

	// Lengths are counted in characters, not bytes.
	output, err = lm.Represent([]string{"çà"}, "", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, output.Dim(0))

	_, err = lm.Represent(nil, "\n", " ", 3)
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))
	_, err = lm.Represent([]string{"abc"}, "\n", " ", 0)
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))
}

func TestRepresentChunkInvariance(t *testing.T) {
	for _, direction := range []charlm.Direction{charlm.Forward, charlm.Backward} {
		lm := charlmtest.NewTiny(ctxtest.New(), direction)
		texts := []string{
			"The quick brown fox jumps over the lazy dog.",
			"Hi!",
			"",
			"A somewhat longer sentence, to cross more than a few chunk boundaries.",
		}
		want, err := lm.Represent(texts, "\n", " ", charlm.DefaultCharsPerChunk)
		require.NoError(t, err)
		for _, width := range []int{1, 3, 7, 45, 72} {
			t.Run(fmt.Sprintf("%s/width=%d", direction, width), func(t *testing.T) {
				got, err := lm.Represent(texts, "\n", " ", width)
				require.NoError(t, err)
				require.Equal(t, want.Dimensions(), got.Dimensions())
				for ii, text := range texts {
					length := utf8.RuneCountInString(text) + 2
					assert.InDeltaSlicef(t, flatten(positionsOf(want, ii, length)), flatten(positionsOf(got, ii, length)),
						1e-9, "text #%d", ii)
				}
			})
		}
	}
}

func flatten(values [][]float64) []float64 {
	var flat []float64
	for _, row := range values {
		flat = append(flat, row...)
	}
	return flat
}

func TestRepresentDirection(t *testing.T) {
	backward := charlmtest.NewTiny(ctxtest.New(), charlm.Backward)
	forward := withDirection(t, backward, charlm.Forward)
	got, err := backward.Represent([]string{"abc", "hello"}, "\n", " ", 4)
	require.NoError(t, err)
	want, err := forward.Represent([]string{"cba", "olleh"}, "\n", " ", 4)
	require.NoError(t, err)
	ctxtest.RequireInDelta(t, want, got, 0)
}

func TestRepresentMatchesForward(t *testing.T) {
	lm := charlmtest.NewTiny(ctxtest.New(), charlm.Forward)
	dict := lm.Dictionary()
	text := "\nhello world "
	input := make([][]int, 0, len(text))
	for _, r := range text {
		input = append(input, []int{dict.IndexOf(string(r))})
	}
	_, want, hidden := lm.Forward(input, nil)

	got, err := lm.Represent([]string{"hello world"}, "\n", " ", 5)
	require.NoError(t, err)
	ctxtest.RequireInDelta(t, want, got, 1e-9)

	last, err := lm.LastHiddenState(text)
	require.NoError(t, err)
	require.Len(t, last, len(hidden))
	assert.Equal(t, 1, last.BatchSize())
	for l := range hidden {
		ctxtest.RequireInDelta(t, hidden[l].Hidden, last[l].Hidden, 1e-12)
		ctxtest.RequireInDelta(t, hidden[l].Cell, last[l].Cell, 1e-12)
	}

	_, err = lm.LastHiddenState("")
	assert.True(t, errors.Is(err, charlm.ErrInvalidInput))
}
