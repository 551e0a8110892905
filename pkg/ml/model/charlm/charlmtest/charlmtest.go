// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package charlmtest provides small language models for tests of packages that use charlm.
//
// NewABCycle builds a model with hand-picked weights whose behavior is known exactly; NewTiny builds a small
// randomly initialized model, quick to run.
package charlmtest

import (
	"github.com/janpfeifer/must"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/data/dictionary"
	"github.com/gomlx/charlm/pkg/ml/layers/lstm"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
)

// ABCItems are the items of ABCDictionary, in order.
var ABCItems = []string{"\n", "a", "b", charlm.PaddingItem}

// ABCDictionary returns the dictionary of the ABCycle model.
func ABCDictionary() *dictionary.Dictionary {
	return must.M1(dictionary.FromItems(ABCItems))
}

// TinyConfig returns a small configuration: 2 layers with hidden size 8, embeddings of size 6, no bottleneck.
func TinyConfig(direction charlm.Direction) charlm.Config {
	return charlm.Config{
		Direction:     direction,
		HiddenSize:    8,
		NumLayers:     2,
		EmbeddingSize: 6,
		Dropout:       0.1,
		UseAllLayers:  true,
	}
}

// NewTiny creates a randomly initialized model with TinyConfig over dictionary.Default, in inference mode.
// Use ctxtest.New for a reproducible ctx.
func NewTiny(ctx *context.Context, direction charlm.Direction) *charlm.LanguageModel {
	return NewWithConfig(ctx, TinyConfig(direction))
}

// NewWithConfig creates a randomly initialized model over dictionary.Default, in inference mode.
// It panics if the configuration is invalid.
func NewWithConfig(ctx *context.Context, cfg charlm.Config) *charlm.LanguageModel {
	return must.M1(charlm.New(ctx, dictionary.Default(), cfg)).Eval()
}

// ABCycleNext maps each item of ABCDictionary to the one the ABCycle model predicts next:
// "a" is followed by "b", everything else by "a".
var ABCycleNext = map[string]string{"\n": "a", "a": "b", "b": "a", charlm.PaddingItem: "a"}

// ABCycleLogit is the approximate logit of the predicted character in the ABCycle model. Others are ~0.
const ABCycleLogit = 7.46

// NewABCycle creates a forward model over ABCDictionary that almost deterministically predicts the
// alternating sequence "abab...", whatever the past characters: see ABCycleNext. Dropout is 0.
//
// It uses one-hot embeddings, and a single LSTM layer whose gates are saturated by the biases (input and
// output gates open, forget gate closed) and whose recurrent weights are 0, so the hidden state only
// depends on the last character.
func NewABCycle(ctx *context.Context) *charlm.LanguageModel {
	dict := ABCDictionary()
	vocabSize := dict.Len()
	cfg := charlm.Config{
		Direction:     charlm.Forward,
		HiddenSize:    vocabSize,
		NumLayers:     1,
		EmbeddingSize: vocabSize,
		UseAllLayers:  true,
	}
	lm := must.M1(charlm.New(ctx, dict, cfg))

	const saturation = 10.0
	embedding := tensors.Zeros(vocabSize, vocabSize)
	weightIH := tensors.Zeros(lstm.NumGates*vocabSize, vocabSize)
	biasIH := tensors.Zeros(lstm.NumGates * vocabSize)
	decoder := tensors.Zeros(vocabSize, vocabSize)
	for j := range vocabSize {
		embedding.Set(1, j, j)
		biasIH.Set(saturation, j)             // Input gate.
		biasIH.Set(-saturation, vocabSize+j)  // Forget gate.
		biasIH.Set(saturation, 3*vocabSize+j) // Output gate.
		weightIH.Set(2, 2*vocabSize+j, j)     // Cell update.
		next := dict.IndexOf(ABCycleNext[dict.ItemOf(j)])
		decoder.Set(saturation, next, j)
	}
	must.M(lm.SetVariables(map[string]*tensors.Tensor{
		"encoder.weight":  embedding,
		"rnn.0.weight_ih": weightIH,
		"rnn.0.weight_hh": tensors.Zeros(lstm.NumGates*vocabSize, vocabSize),
		"rnn.0.bias_ih":   biasIH,
		"rnn.0.bias_hh":   tensors.Zeros(lstm.NumGates * vocabSize),
		"decoder.weight":  decoder,
		"decoder.bias":    tensors.Zeros(vocabSize),
	}))
	return lm.Eval()
}
