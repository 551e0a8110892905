// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lstm provides a minimal "Long Short-Term Memory RNN" (LSTM) [1] implementation.
//
// An LSTM is a type of recurrent neural network that addresses the vanishing gradient problem in vanilla RNNs through
// additional cells, input and output gates. For each step t:
//
//	i = σ(W_ii x_t + b_ii + W_hi h_{t-1} + b_hi)
//	f = σ(W_if x_t + b_if + W_hf h_{t-1} + b_hf)
//	g = tanh(W_ig x_t + b_ig + W_hg h_{t-1} + b_hg)
//	o = σ(W_io x_t + b_io + W_ho h_{t-1} + b_ho)
//	c_t = f * c_{t-1} + i * g
//	h_t = o * tanh(c_t)
//
// The weights of the 4 gates are stacked in the order (i, f, g, o), with separate input and recurrent biases,
// which is the layout used by PyTorch [2]. So weights trained there can be used directly.
//
// [1] https://www.bioinf.jku.at/publications/older/2604.pdf, Hochreiter & Schmidhuber, 1997
// [2] https://pytorch.org/docs/stable/generated/torch.nn.LSTM.html
package lstm

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/initializer"
	"github.com/gomlx/charlm/pkg/ml/layers/activations"
)

// NumGates is the number of blocks stacked in the weights: input (i), forget (f), cell update (g) and output (o).
const NumGates = 4

// Layer holds the weights of one LSTM layer. It can be created with New (or NewWithWeights),
// and applied to a sequence with Apply.
type Layer struct {
	// Model weights: see NewWithWeights for their shapes.
	WeightIH, WeightHH, BiasIH, BiasHH *tensors.Tensor
}

// New creates a new LSTM layer with weights and biases initialized uniformly in `[-1/sqrt(hiddenSize), 1/sqrt(hiddenSize))`.
func New(ctx *context.Context, inputSize, hiddenSize int) *Layer {
	if inputSize <= 0 || hiddenSize <= 0 {
		exceptions.Panicf("lstm.New: inputSize (%d) and hiddenSize (%d) must be > 0", inputSize, hiddenSize)
	}
	initFn := initializer.Symmetric(1 / math.Sqrt(float64(hiddenSize)))
	return NewWithWeights(
		initFn(ctx, NumGates*hiddenSize, inputSize),
		initFn(ctx, NumGates*hiddenSize, hiddenSize),
		initFn(ctx, NumGates*hiddenSize),
		initFn(ctx, NumGates*hiddenSize))
}

// NewWithWeights creates a new LSTM layer using the given weights, as opposed to creating them.
//
// Args:
//   - weightIH: shaped [4*hiddenSize, inputSize]
//   - weightHH: shaped [4*hiddenSize, hiddenSize]
//   - biasIH, biasHH: shaped [4*hiddenSize].
//
// It panics if the dimensions are not consistent.
func NewWithWeights(weightIH, weightHH, biasIH, biasHH *tensors.Tensor) *Layer {
	l := &Layer{
		WeightIH: weightIH,
		WeightHH: weightHH,
		BiasIH:   biasIH,
		BiasHH:   biasHH,
	}
	l.AssertWeights()
	return l
}

// AssertWeights panics if the weights have inconsistent dimensions.
// Call it after replacing any of the weights.
func (l *Layer) AssertWeights() {
	if l.WeightIH == nil || l.WeightHH == nil || l.BiasIH == nil || l.BiasHH == nil {
		exceptions.Panicf("lstm: missing weights")
	}
	if l.WeightIH.Rank() != 2 || l.WeightIH.Dim(0)%NumGates != 0 {
		exceptions.Panicf("lstm: weight_ih must be shaped [4*hiddenSize, inputSize], got %v", l.WeightIH.Dimensions())
	}
	hiddenSize := l.HiddenSize()
	checkDims := func(name string, t *tensors.Tensor, dims ...int) {
		got := t.Dimensions()
		if len(got) != len(dims) {
			exceptions.Panicf("lstm: %s must be shaped %v, got %v", name, dims, got)
		}
		for axis := range dims {
			if got[axis] != dims[axis] {
				exceptions.Panicf("lstm: %s must be shaped %v, got %v", name, dims, got)
			}
		}
	}
	checkDims("weight_hh", l.WeightHH, NumGates*hiddenSize, hiddenSize)
	checkDims("bias_ih", l.BiasIH, NumGates*hiddenSize)
	checkDims("bias_hh", l.BiasHH, NumGates*hiddenSize)
}

// InputSize is the size of the features of the input.
func (l *Layer) InputSize() int { return l.WeightIH.Dim(1) }

// HiddenSize is the size of the hidden and cell states.
func (l *Layer) HiddenSize() int { return l.WeightIH.Dim(0) / NumGates }

// State is the pair of hidden state (h) and cell state (c) of an LSTM layer, both shaped [batchSize, hiddenSize].
type State struct {
	Hidden, Cell *tensors.Tensor
}

// ZeroState returns a State filled with zeros.
func ZeroState(batchSize, hiddenSize int) State {
	return State{Hidden: tensors.Zeros(batchSize, hiddenSize), Cell: tensors.Zeros(batchSize, hiddenSize)}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{Hidden: s.Hidden.Clone(), Cell: s.Cell.Clone()}
}

// BatchSize of the state.
func (s State) BatchSize() int { return s.Hidden.Dim(0) }

// Step runs one step of the LSTM, for x shaped [batchSize, inputSize], and returns the new state.
// The given state is not modified.
func (l *Layer) Step(x *tensors.Tensor, state State) State {
	hiddenSize := l.HiddenSize()
	batchSize := x.Dim(0)
	if x.Rank() != 2 || x.Dim(1) != l.InputSize() {
		exceptions.Panicf("lstm.Step: x must be shaped [batchSize, %d], got %v", l.InputSize(), x.Dimensions())
	}
	if state.Hidden.Dim(0) != batchSize || state.Hidden.Dim(1) != hiddenSize ||
		state.Cell.Dim(0) != batchSize || state.Cell.Dim(1) != hiddenSize {
		exceptions.Panicf("lstm.Step: state must be shaped [%d, %d], got hidden %v and cell %v",
			batchSize, hiddenSize, state.Hidden.Dimensions(), state.Cell.Dimensions())
	}

	// gates: [batchSize, 4*hiddenSize]
	gates := tensors.AddRowVector(tensors.MatMulTransposed(x, l.WeightIH), l.BiasIH)
	recurrent := tensors.AddRowVector(tensors.MatMulTransposed(state.Hidden, l.WeightHH), l.BiasHH)
	gatesFlat := gates.Flat()
	for ii, v := range recurrent.Flat() {
		gatesFlat[ii] += v
	}

	next := ZeroState(batchSize, hiddenSize)
	hFlat, cFlat := next.Hidden.Flat(), next.Cell.Flat()
	prevCell := state.Cell.Flat()
	for batchIdx := range batchSize {
		row := gatesFlat[batchIdx*NumGates*hiddenSize : (batchIdx+1)*NumGates*hiddenSize]
		inputGate := row[0:hiddenSize]
		forgetGate := row[hiddenSize : 2*hiddenSize]
		cellUpdate := row[2*hiddenSize : 3*hiddenSize]
		outputGate := row[3*hiddenSize:]
		activations.SigmoidSlice(inputGate)
		activations.SigmoidSlice(forgetGate)
		activations.TanhSlice(cellUpdate)
		activations.SigmoidSlice(outputGate)

		base := batchIdx * hiddenSize
		for jj := range hiddenSize {
			c := forgetGate[jj]*prevCell[base+jj] + inputGate[jj]*cellUpdate[jj]
			cFlat[base+jj] = c
			hFlat[base+jj] = c
		}
		activations.TanhSlice(hFlat[base : base+hiddenSize])
		for jj := range hiddenSize {
			hFlat[base+jj] *= outputGate[jj]
		}
	}
	return next
}

// Apply runs the LSTM over the whole sequence x, shaped [seqLen, batchSize, inputSize].
//
// If initial is nil, a zero state is used. The initial state is not modified.
//
// It returns the hidden state of every step, shaped [seqLen, batchSize, hiddenSize], and the final state.
// If seqLen is 0 the final state is the initial state.
func (l *Layer) Apply(x *tensors.Tensor, initial *State) (outputs *tensors.Tensor, last State) {
	if x.Rank() != 3 {
		exceptions.Panicf("lstm.Apply: x must be shaped [seqLen, batchSize, inputSize], got %v", x.Dimensions())
	}
	seqLen, batchSize, inputSize := x.Dim(0), x.Dim(1), x.Dim(2)
	hiddenSize := l.HiddenSize()
	if initial != nil {
		last = *initial
	} else {
		last = ZeroState(batchSize, hiddenSize)
	}
	outputs = tensors.Zeros(seqLen, batchSize, hiddenSize)
	outFlat, xFlat := outputs.Flat(), x.Flat()
	stepSize := batchSize * inputSize
	for step := range seqLen {
		xStep := tensors.FromFlatDataAndDimensions(xFlat[step*stepSize:(step+1)*stepSize], batchSize, inputSize)
		last = l.Step(xStep, last)
		copy(outFlat[step*batchSize*hiddenSize:], last.Hidden.Flat())
	}
	return outputs, last
}
