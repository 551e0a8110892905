// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/ml/decode/sample"
)

// DefaultPrefix is used by Generate when the prefix is empty.
const DefaultPrefix = "\n"

// Generate samples numChars characters following prefix, and returns the prefix followed by the generated text,
// plus the average (raw, before temperature) logit of the sampled characters.
//
// Generation stops early when the generated characters end with breakOnSuffix, if it's not empty.
//
// temperature must be > 0: lower values are more deterministic (approaching argmax), higher values more random.
// The random draws come from the model context: seed it to make generation reproducible.
//
// Text is always in natural reading order: backward models read the prefix (and breakOnSuffix) reversed and
// generate to the left of it.
func (lm *LanguageModel) Generate(prefix string, numChars int, temperature float64, breakOnSuffix string) (text string, avgLogProb float64, err error) {
	return lm.GenerateWith(prefix, numChars, Sampling{Strategy: sample.StrategyTemperature, Temperature: temperature}, breakOnSuffix)
}

// Sampling selects how GenerateWith picks each character from the logits.
type Sampling struct {
	Strategy sample.Strategy

	// Temperature used by sample.StrategyTemperature and sample.StrategyTopK. Must be > 0 for those.
	Temperature float64

	// TopK is the number of best candidates considered by sample.StrategyTopK. 0 considers all of them.
	TopK int
}

// Validate returns an error wrapping ErrInvalidInput if the sampling options are not usable.
func (s Sampling) Validate() error {
	switch s.Strategy {
	case sample.StrategyGreedy:
		return nil
	case sample.StrategyTemperature, sample.StrategyTopK:
	default:
		return errors.Wrapf(ErrInvalidInput, "unknown sampling strategy %s", s.Strategy)
	}
	if s.Temperature <= 0 {
		return errors.Wrapf(ErrInvalidInput, "temperature must be > 0, got %g", s.Temperature)
	}
	if s.TopK < 0 {
		return errors.Wrapf(ErrInvalidInput, "top-k must be >= 0, got %d", s.TopK)
	}
	return nil
}

// GenerateWith is like Generate, but with the given sampling strategy.
func (lm *LanguageModel) GenerateWith(prefix string, numChars int, sampling Sampling, breakOnSuffix string) (text string, avgLogProb float64, err error) {
	if numChars < 0 {
		return "", 0, errors.Wrapf(ErrInvalidInput, "numChars must be >= 0, got %d", numChars)
	}
	if err = sampling.Validate(); err != nil {
		return "", 0, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if numChars == 0 {
		return prefix, 0, nil
	}
	err = exceptions.TryCatch[error](func() {
		text, avgLogProb = lm.generate(prefix, numChars, sampling, breakOnSuffix)
	})
	if err != nil {
		return "", 0, errors.WithMessage(err, "charlm.Generate")
	}
	return text, avgLogProb, nil
}

func (lm *LanguageModel) generate(prefix string, numChars int, sampling Sampling, breakOnSuffix string) (string, float64) {
	runes := []rune(prefix)
	if !lm.IsForward() {
		slices.Reverse(runes)
		breakOnSuffix = reverseString(breakOnSuffix)
	}

	// Prime hidden state with all but the last character.
	var hidden HiddenState
	if len(runes) > 1 {
		_, _, hidden = lm.Forward(lm.column(runes[:len(runes)-1]), nil)
	}
	input := lm.dict.IndexOf(string(runes[len(runes)-1]))

	var generated strings.Builder
	var logProb float64
	count := 0
	for count < numChars {
		logits := lm.forwardOne(input, &hidden)
		idx, ok := sample.SampleWithStrategy(lm.ctx, logits, sampling.Strategy, sampling.Temperature, sampling.TopK)
		if !ok {
			klog.Warningf("charlm.Generate: degenerate distribution at step %d (%s, temperature %g), using index 0",
				count, sampling.Strategy, sampling.Temperature)
		}
		logProb += logits[idx]
		input = idx
		generated.WriteString(lm.dict.ItemOf(idx))
		count++
		if klog.V(2).Enabled() {
			klog.Infof("charlm.Generate: step %d sampled %q (logit %.4f)", count, lm.dict.ItemOf(idx), logits[idx])
		}
		if breakOnSuffix != "" && strings.HasSuffix(generated.String(), breakOnSuffix) {
			break
		}
	}

	text := string(runes) + generated.String()
	if !lm.IsForward() {
		text = reverseString(text)
	}
	return text, logProb / float64(count)
}

// forwardOne runs one step for a batch of one, updating hidden, and returns the logits of the next character.
func (lm *LanguageModel) forwardOne(input int, hidden *HiddenState) []float64 {
	logits, _, newHidden := lm.Forward([][]int{{input}}, *hidden)
	*hidden = newHidden
	return logits.Flat()
}

func reverseString(s string) string {
	runes := []rune(s)
	slices.Reverse(runes)
	return string(runes)
}
