// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

// DefaultCharsPerChunk is the usual chunk width for Represent.
const DefaultCharsPerChunk = 512

// Represent returns the per-character representation of a batch of texts, shaped [L, batchSize, RepresentationSize],
// where L is the length (in characters) of the longest text plus the markers.
//
// Each text is reversed first for backward models, and then wrapped with startMarker and endMarker. The padded
// texts are processed in windows of charsPerChunk characters, carrying the hidden state from one window to the
// next, so long texts behave as one continuous sequence while only one window is processed at a time.
// Within each window shorter texts are right-padded with PaddingItem.
//
// The padding is not removed: callers must slice out the valid positions using the lengths of their texts.
func (lm *LanguageModel) Represent(texts []string, startMarker, endMarker string, charsPerChunk int) (*tensors.Tensor, error) {
	if len(texts) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "Represent requires at least one text")
	}
	if charsPerChunk <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "charsPerChunk must be > 0, got %d", charsPerChunk)
	}
	var output *tensors.Tensor
	err := exceptions.TryCatch[error](func() { output = lm.represent(texts, startMarker, endMarker, charsPerChunk) })
	if err != nil {
		return nil, errors.WithMessage(err, "charlm.Represent")
	}
	return output, nil
}

func (lm *LanguageModel) represent(texts []string, startMarker, endMarker string, charsPerChunk int) *tensors.Tensor {
	batchSize := len(texts)
	start, end := []rune(startMarker), []rune(endMarker)
	padded := make([][]rune, batchSize)
	longest := 0
	for ii, text := range texts {
		runes := []rune(text)
		if !lm.IsForward() {
			slices.Reverse(runes)
		}
		padded[ii] = slices.Concat(start, runes, end)
		longest = max(longest, len(padded[ii]))
	}
	if longest == 0 {
		return tensors.Zeros(0, batchSize, lm.config.RepresentationSize())
	}

	// Windows [begin, end) of width charsPerChunk, the last one covering the remainder.
	type window struct{ begin, end int }
	var windows []window
	begin := 0
	for windowEnd := charsPerChunk; windowEnd < longest; windowEnd += charsPerChunk {
		windows = append(windows, window{begin, windowEnd})
		begin = windowEnd
	}
	windows = append(windows, window{begin, longest})

	paddingIdx := lm.dict.IndexOf(PaddingItem)
	var hidden HiddenState
	parts := make([]*tensors.Tensor, 0, len(windows))
	for _, w := range windows {
		slicesInWindow := make([][]rune, batchSize)
		longestInWindow := 0
		for ii, runes := range padded {
			slicesInWindow[ii] = runes[min(w.begin, len(runes)):min(w.end, len(runes))]
			longestInWindow = max(longestInWindow, len(slicesInWindow[ii]))
		}

		// input is [seqLen][batchSize]: time-major.
		input := make([][]int, longestInWindow)
		for step := range input {
			input[step] = make([]int, batchSize)
			for ii, runes := range slicesInWindow {
				if step < len(runes) {
					input[step][ii] = lm.dict.IndexOf(string(runes[step]))
				} else {
					input[step][ii] = paddingIdx
				}
			}
		}
		var representation *tensors.Tensor
		_, representation, hidden = lm.Forward(input, hidden)
		parts = append(parts, representation)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return tensors.Concatenate(0, parts...)
}

// LastHiddenState runs the model over text, starting from the zero state, and returns the final hidden state,
// detached from the model. The text is fed as is, in the order the model reads.
func (lm *LanguageModel) LastHiddenState(text string) (HiddenState, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "LastHiddenState requires a non-empty text")
	}
	var hidden HiddenState
	err := exceptions.TryCatch[error](func() {
		_, _, hidden = lm.Forward(lm.column(runes), nil)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "charlm.LastHiddenState")
	}
	return hidden.Detach(), nil
}

// column converts runes to the input of Forward for a batch of size 1: [len(runes)][1].
func (lm *LanguageModel) column(runes []rune) [][]int {
	input := make([][]int, len(runes))
	for ii, r := range runes {
		input[ii] = []int{lm.dict.IndexOf(string(r))}
	}
	return input
}
