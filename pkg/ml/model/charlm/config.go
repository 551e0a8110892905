// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned (wrapped) when a model configuration is invalid, or a model file is missing
	// required configuration fields.
	ErrConfiguration = errors.New("invalid language model configuration")

	// ErrInvalidInput is returned (wrapped) when an operation is called with arguments that violate its contract,
	// e.g. the perplexity of a text with less than 2 characters.
	ErrInvalidInput = errors.New("invalid input")
)

// Direction in which a LanguageModel reads text.
type Direction int

const (
	// Forward models read text left to right, predicting the next character.
	Forward Direction = iota

	// Backward models read text right to left, predicting the previous character.
	Backward
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "Direction(invalid)"
	}
}

// Config holds the hyperparameters of a LanguageModel. It determines the shapes of all weights, and it's fixed
// once the model is created.
type Config struct {
	// VocabSize is the number of items in the dictionary. If left as 0, New sets it from the dictionary.
	VocabSize int

	Direction Direction

	// HiddenSize is the size of the hidden state of each LSTM layer.
	HiddenSize int

	// NumLayers of LSTM stacked.
	NumLayers int

	// EmbeddingSize of each character.
	EmbeddingSize int

	// BottleneckSize is the output size of a linear projection applied to the representation before
	// the decoder. If 0 there is no projection.
	BottleneckSize int

	// Dropout rate applied to the embeddings, between layers and to the representation, while training.
	Dropout float64

	// UseAllLayers concatenates the outputs of all layers as the representation. Otherwise only the
	// last layer output is used.
	UseAllLayers bool
}

// DefaultConfig returns the default configuration: forward direction, a single layer of hidden size 1024,
// embeddings of size 100, dropout of 0.1 and using all layers for the representation.
func DefaultConfig() Config {
	return Config{
		Direction:     Forward,
		HiddenSize:    1024,
		NumLayers:     1,
		EmbeddingSize: 100,
		Dropout:       0.1,
		UseAllLayers:  true,
	}
}

// Validate returns an error wrapping ErrConfiguration if the configuration is invalid.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return errors.Wrapf(ErrConfiguration, "vocabulary size must be > 0, got %d", c.VocabSize)
	case c.Direction != Forward && c.Direction != Backward:
		return errors.Wrapf(ErrConfiguration, "invalid direction %d", c.Direction)
	case c.HiddenSize <= 0:
		return errors.Wrapf(ErrConfiguration, "hidden size must be > 0, got %d", c.HiddenSize)
	case c.NumLayers <= 0:
		return errors.Wrapf(ErrConfiguration, "number of layers must be > 0, got %d", c.NumLayers)
	case c.EmbeddingSize <= 0:
		return errors.Wrapf(ErrConfiguration, "embedding size must be > 0, got %d", c.EmbeddingSize)
	case c.BottleneckSize < 0:
		return errors.Wrapf(ErrConfiguration, "bottleneck size must be >= 0 (0 for none), got %d", c.BottleneckSize)
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Wrapf(ErrConfiguration, "dropout must be in [0, 1), got %g", c.Dropout)
	}
	return nil
}

// ConcatenatedSize is the size of the features of the LSTM layers output used: HiddenSize*NumLayers if
// UseAllLayers, HiddenSize otherwise.
func (c Config) ConcatenatedSize() int {
	if c.UseAllLayers {
		return c.HiddenSize * c.NumLayers
	}
	return c.HiddenSize
}

// RepresentationSize is the size of the features of the representation, the input to the decoder.
func (c Config) RepresentationSize() int {
	if c.BottleneckSize > 0 {
		return c.BottleneckSize
	}
	return c.ConcatenatedSize()
}
