// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"math"
	"slices"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/internal/workerspool"
	"github.com/gomlx/charlm/pkg/ml/train/losses"
)

// Perplexity returns how well the model predicts text: the exponential of the mean cross-entropy of each
// character prediction given the true previous ones. It's always >= 1, lower is better.
//
// Backward models read the text reversed. The text must have at least 2 characters.
func (lm *LanguageModel) Perplexity(text string) (float64, error) {
	runes := []rune(text)
	if len(runes) < 2 {
		return 0, errors.Wrapf(ErrInvalidInput, "perplexity requires a text with at least 2 characters, got %q", text)
	}
	if !lm.IsForward() {
		slices.Reverse(runes)
	}
	var perplexity float64
	err := exceptions.TryCatch[error](func() {
		input := lm.column(runes[:len(runes)-1])
		targets := make([]int, len(runes)-1)
		for ii, r := range runes[1:] {
			targets[ii] = lm.dict.IndexOf(string(r))
		}
		logits, _, _ := lm.Forward(input, nil)
		loss := losses.MeanSparseCategoricalCrossEntropyLogits(targets, logits)
		perplexity = math.Exp(loss)
	})
	if err != nil {
		return 0, errors.WithMessage(err, "charlm.Perplexity")
	}
	return perplexity, nil
}

// Perplexities returns the Perplexity of each of the texts, evaluated in parallel by up to parallelism
// goroutines (0 for the number of CPUs, negative for unlimited).
//
// The model must be in inference mode (see Eval), since dropout would draw from the shared random number generator.
func (lm *LanguageModel) Perplexities(texts []string, parallelism int) ([]float64, error) {
	if lm.training {
		return nil, errors.Wrap(ErrInvalidInput, "Perplexities requires the model in inference mode, call Eval() first")
	}
	results := make([]float64, len(texts))
	pool := workerspool.New(parallelism)
	if klog.V(1).Enabled() {
		workers := "unlimited"
		if !pool.IsUnlimited() {
			workers = strconv.Itoa(pool.MaxParallelism())
		}
		klog.Infof("charlm.Perplexities: %d texts, %s workers", len(texts), workers)
	}
	err := pool.Map(len(texts), func(i int) error {
		var err error
		results[i], err = lm.Perplexity(texts[i])
		return errors.WithMessagef(err, "text #%d", i)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
