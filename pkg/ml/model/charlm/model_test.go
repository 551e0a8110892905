// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context/ctxtest"
	"github.com/gomlx/charlm/pkg/ml/data/dictionary"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
	"github.com/gomlx/charlm/pkg/ml/model/charlm/charlmtest"
)

// withDirection returns a model in inference mode with the same configuration and (copied) weights as lm,
// but reading text in the given direction.
func withDirection(t *testing.T, lm *charlm.LanguageModel, direction charlm.Direction) *charlm.LanguageModel {
	t.Helper()
	cfg := lm.Config()
	cfg.Direction = direction
	other, err := charlm.New(ctxtest.New(), lm.Dictionary(), cfg)
	require.NoError(t, err)
	weights := make(map[string]*tensors.Tensor)
	for name, value := range lm.IterVariables() {
		weights[name] = value.Clone()
	}
	require.NoError(t, other.SetVariables(weights))
	return other.Eval()
}

func TestConfigValidate(t *testing.T) {
	valid := charlmtest.TinyConfig(charlm.Forward)
	valid.VocabSize = 10
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(c *charlm.Config){
		"vocab":      func(c *charlm.Config) { c.VocabSize = 0 },
		"direction":  func(c *charlm.Config) { c.Direction = charlm.Direction(7) },
		"hidden":     func(c *charlm.Config) { c.HiddenSize = 0 },
		"layers":     func(c *charlm.Config) { c.NumLayers = -1 },
		"embedding":  func(c *charlm.Config) { c.EmbeddingSize = 0 },
		"bottleneck": func(c *charlm.Config) { c.BottleneckSize = -2 },
		"dropout<0":  func(c *charlm.Config) { c.Dropout = -0.1 },
		"dropout=1":  func(c *charlm.Config) { c.Dropout = 1 },
	} {
		cfg := valid
		mutate(&cfg)
		err := cfg.Validate()
		require.Errorf(t, err, "config %q should be invalid", name)
		assert.Truef(t, errors.Is(err, charlm.ErrConfiguration), "config %q: unexpected error %v", name, err)
	}

	cfg := charlm.DefaultConfig()
	assert.Equal(t, 1024, cfg.HiddenSize)
	assert.Equal(t, 100, cfg.EmbeddingSize)
	assert.Equal(t, 0.1, cfg.Dropout)
	assert.True(t, cfg.UseAllLayers)
	assert.Equal(t, charlm.Forward, cfg.Direction)
}

func TestNew(t *testing.T) {
	dict := dictionary.Default()
	cfg := charlmtest.TinyConfig(charlm.Backward)
	lm, err := charlm.New(ctxtest.New(), dict, cfg)
	require.NoError(t, err)
	assert.Equal(t, dict.Len(), lm.Config().VocabSize)
	assert.True(t, lm.IsTraining())
	assert.False(t, lm.IsForward())
	assert.Equal(t, "backward", lm.Direction().String())
	assert.False(t, lm.Eval().IsTraining())
	assert.True(t, lm.Train().IsTraining())

	var names []string
	for _, v := range lm.Variables() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{
		"encoder.weight",
		"rnn.0.weight_ih", "rnn.0.weight_hh", "rnn.0.bias_ih", "rnn.0.bias_hh",
		"rnn.1.weight_ih", "rnn.1.weight_hh", "rnn.1.bias_ih", "rnn.1.bias_hh",
		"decoder.weight", "decoder.bias",
	}, names)

	// V=96, E=6, H=8, 2 layers, decoder from 16 features.
	v, e, h := dict.Len(), 6, 8
	want := v*e +
		4*h*e + 4*h*h + 8*h +
		4*h*h + 4*h*h + 8*h +
		v*2*h + v
	assert.Equal(t, want, lm.NumParameters())

	// Mismatched vocabulary size.
	cfg.VocabSize = dict.Len() + 1
	_, err = charlm.New(ctxtest.New(), dict, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, charlm.ErrConfiguration))

	// Invalid configuration.
	cfg = charlmtest.TinyConfig(charlm.Forward)
	cfg.NumLayers = 0
	_, err = charlm.New(ctxtest.New(), dict, cfg)
	assert.True(t, errors.Is(err, charlm.ErrConfiguration))
}

func TestNewInitialization(t *testing.T) {
	cfg := charlm.Config{HiddenSize: 8, NumLayers: 2, EmbeddingSize: 6, BottleneckSize: 5, Dropout: 0.1, UseAllLayers: true}
	lm, err := charlm.New(ctxtest.New(), dictionary.Default(), cfg)
	require.NoError(t, err)
	cfg = lm.Config()

	// Limits of the uniform initialization of each weight: values must be in [-limit, limit), and spread
	// over most of the range.
	lstmLimit := 1 / math.Sqrt(float64(cfg.HiddenSize))
	limits := map[string]float64{
		"encoder.weight": 0.1,
		"decoder.weight": 0.1,
		"proj.weight":    math.Sqrt(3 / float64(cfg.ConcatenatedSize()+cfg.BottleneckSize)),
		"proj.bias":      1 / math.Sqrt(float64(cfg.ConcatenatedSize())),
	}
	for l := range cfg.NumLayers {
		for _, name := range []string{"weight_ih", "weight_hh", "bias_ih", "bias_hh"} {
			limits[fmt.Sprintf("rnn.%d.%s", l, name)] = lstmLimit
		}
	}

	seen := make(map[string]bool)
	for name, value := range lm.IterVariables() {
		seen[name] = true
		if name == "decoder.bias" {
			assert.Equal(t, make([]float64, cfg.VocabSize), value.Flat(), "decoder.bias must start at zero")
			continue
		}
		limit, found := limits[name]
		require.Truef(t, found, "unexpected variable %q", name)
		if value.Size() >= 20 {
			maxAbs := floats.Norm(value.Flat(), math.Inf(1))
			assert.Greaterf(t, maxAbs, limit/2, "%s is not spread over [-%g, %g)", name, limit, limit)
		}
		for _, v := range value.Flat() {
			require.GreaterOrEqualf(t, v, -limit, "%s out of range", name)
			require.Lessf(t, v, limit, "%s out of range", name)
		}
	}
	assert.Len(t, seen, len(limits)+1)
}

func TestForwardShapes(t *testing.T) {
	const seqLen, batchSize = 5, 2
	input := make([][]int, seqLen)
	for step := range input {
		input[step] = []int{step, 10 + step}
	}
	for _, tc := range []struct {
		numLayers, bottleneck int
		useAllLayers          bool
		wantFeatures          int
	}{
		{1, 0, true, 8},
		{1, 0, false, 8},
		{3, 0, true, 24},
		{3, 0, false, 8},
		{3, 5, true, 5},
		{1, 5, false, 5},
	} {
		name := fmt.Sprintf("layers=%d,bottleneck=%d,all=%v", tc.numLayers, tc.bottleneck, tc.useAllLayers)
		t.Run(name, func(t *testing.T) {
			cfg := charlmtest.TinyConfig(charlm.Forward)
			cfg.NumLayers = tc.numLayers
			cfg.BottleneckSize = tc.bottleneck
			cfg.UseAllLayers = tc.useAllLayers
			lm := charlmtest.NewWithConfig(ctxtest.New(), cfg)
			require.Equal(t, tc.wantFeatures, lm.Config().RepresentationSize())

			logits, representation, hidden := lm.Forward(input, nil)
			assert.Equal(t, []int{seqLen, batchSize, lm.Dictionary().Len()}, logits.Dimensions())
			assert.Equal(t, []int{seqLen, batchSize, tc.wantFeatures}, representation.Dimensions())
			require.Len(t, hidden, tc.numLayers)
			assert.Equal(t, batchSize, hidden.BatchSize())
			for _, state := range hidden {
				assert.Equal(t, []int{batchSize, cfg.HiddenSize}, state.Hidden.Dimensions())
				assert.Equal(t, []int{batchSize, cfg.HiddenSize}, state.Cell.Dimensions())
			}
		})
	}
}

func TestForwardContinuation(t *testing.T) {
	lm := charlmtest.NewTiny(ctxtest.New(), charlm.Forward)
	input := [][]int{{3}, {17}, {40}, {41}, {5}, {77}}
	logits, _, hidden := lm.Forward(input, nil)

	// Running in two parts, carrying the hidden state, must give the same result.
	first, _, partial := lm.Forward(input[:2], nil)
	second, _, continued := lm.Forward(input[2:], partial)
	ctxtest.RequireInDelta(t, logits, tensors.Concatenate(0, first, second), 1e-12)
	for l := range hidden {
		ctxtest.RequireInDelta(t, hidden[l].Hidden, continued[l].Hidden, 1e-12)
		ctxtest.RequireInDelta(t, hidden[l].Cell, continued[l].Cell, 1e-12)
	}

	// Detach copies the state.
	detached := hidden.Detach()
	detached[0].Hidden.Set(100, 0, 0)
	assert.NotEqual(t, 100.0, hidden[0].Hidden.At(0, 0))

	// Invalid inputs panic.
	require.Panics(t, func() { lm.Forward(nil, nil) })
	require.Panics(t, func() { lm.Forward(input, hidden[:1]) })
	require.Panics(t, func() { lm.Forward([][]int{{lm.Dictionary().Len()}}, nil) })
}

func TestDropout(t *testing.T) {
	cfg := charlmtest.TinyConfig(charlm.Forward)
	cfg.Dropout = 0.5
	lm := charlmtest.NewWithConfig(ctxtest.New(), cfg)
	input := [][]int{{3, 4}, {17, 18}, {40, 41}}

	// Inference mode: deterministic.
	require.False(t, lm.IsTraining())
	logits0, _, _ := lm.Forward(input, nil)
	logits1, _, _ := lm.Forward(input, nil)
	assert.True(t, logits0.Equal(logits1))

	// Training mode: every call draws a new dropout mask.
	lm.Train()
	logits2, _, _ := lm.Forward(input, nil)
	logits3, _, _ := lm.Forward(input, nil)
	assert.False(t, logits2.Equal(logits3))
	assert.False(t, logits0.Equal(logits2))
}

func TestSetVariables(t *testing.T) {
	lm := charlmtest.NewTiny(ctxtest.New(), charlm.Forward)
	values := func() map[string]*tensors.Tensor {
		m := make(map[string]*tensors.Tensor)
		for name, value := range lm.IterVariables() {
			m[name] = value.Clone()
		}
		return m
	}

	// Missing weight.
	m := values()
	delete(m, "rnn.1.bias_hh")
	err := lm.SetVariables(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, charlm.ErrConfiguration))

	// Wrong dimensions.
	m = values()
	m["decoder.bias"] = tensors.Zeros(3)
	require.ErrorIs(t, lm.SetVariables(m), charlm.ErrConfiguration)

	// Unexpected weight.
	m = values()
	m["proj.weight"] = tensors.Zeros(3, 3)
	require.ErrorIs(t, lm.SetVariables(m), charlm.ErrConfiguration)

	// Valid: the model takes the new tensors.
	m = values()
	m["decoder.bias"].Set(1.5, 7)
	require.NoError(t, lm.SetVariables(m))
	for _, v := range lm.Variables() {
		if v.Name == "decoder.bias" {
			assert.Equal(t, 1.5, v.Value.At(7))
		}
	}
}
