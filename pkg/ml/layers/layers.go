// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the modeling layers used by the character language model: Embedding, Dense
// (a linear projection with optional bias) and Dropout. The recurrent layer lives in the sub-package lstm.
//
// A small convention on naming: layers are nouns (like "Embedding", "Dense"), they own their weights,
// and they are applied with an `Apply` method. Weights are exported so models can enumerate and replace
// them when saving or loading.
package layers

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/initializer"
)

// Embedding is a lookup table of vectors, one per vocabulary index.
type Embedding struct {
	// Weight is shaped [vocabSize, dimension].
	Weight *tensors.Tensor
}

// NewEmbedding creates an embedding table with vocabSize rows of the given dimension, initialized with initFn.
func NewEmbedding(ctx *context.Context, vocabSize, dimension int, initFn initializer.Initializer) *Embedding {
	return &Embedding{Weight: initFn(ctx, vocabSize, dimension)}
}

// VocabSize is the number of rows of the table.
func (e *Embedding) VocabSize() int { return e.Weight.Dim(0) }

// Dimension of each embedding vector.
func (e *Embedding) Dimension() int { return e.Weight.Dim(1) }

// Apply converts the indices, shaped [seqLen][batchSize], to their embeddings shaped [seqLen, batchSize, dimension].
// All rows of indices must have the same length. It panics on indices out of range.
func (e *Embedding) Apply(indices [][]int) *tensors.Tensor {
	seqLen := len(indices)
	batchSize := 0
	if seqLen > 0 {
		batchSize = len(indices[0])
	}
	vocabSize, dim := e.VocabSize(), e.Dimension()
	output := tensors.Zeros(seqLen, batchSize, dim)
	outFlat, table := output.Flat(), e.Weight.Flat()
	for step, row := range indices {
		if len(row) != batchSize {
			exceptions.Panicf("layers.Embedding: step %d has %d indices, expected batch size %d", step, len(row), batchSize)
		}
		for batchIdx, idx := range row {
			if idx < 0 || idx >= vocabSize {
				exceptions.Panicf("layers.Embedding: index %d at step %d out of range for vocabulary of size %d",
					idx, step, vocabSize)
			}
			pos := (step*batchSize + batchIdx) * dim
			copy(outFlat[pos:pos+dim], table[idx*dim:(idx+1)*dim])
		}
	}
	return output
}

// Dense is a learnable linear transformation plus an optional bias term.
type Dense struct {
	// Weight is shaped [outputDim, inputDim].
	Weight *tensors.Tensor

	// Bias is shaped [outputDim], or nil if the layer has no bias.
	Bias *tensors.Tensor
}

// NewDense creates a dense layer, initializing the weight with weightInit and the bias with biasInit.
// If biasInit is nil, the layer has no bias.
func NewDense(ctx *context.Context, inputDim, outputDim int, weightInit, biasInit initializer.Initializer) *Dense {
	d := &Dense{Weight: weightInit(ctx, outputDim, inputDim)}
	if biasInit != nil {
		d.Bias = biasInit(ctx, outputDim)
	}
	return d
}

// InputDim is the size of the last axis of the inputs.
func (d *Dense) InputDim() int { return d.Weight.Dim(1) }

// OutputDim is the size of the last axis of the outputs.
func (d *Dense) OutputDim() int { return d.Weight.Dim(0) }

// Apply the layer to x shaped `[<batch dimensions...>, inputDim]`. The output is shaped
// `[<batch dimensions...>, outputDim]`.
func (d *Dense) Apply(x *tensors.Tensor) *tensors.Tensor {
	dims := x.Dimensions()
	if len(dims) == 0 || dims[len(dims)-1] != d.InputDim() {
		exceptions.Panicf("layers.Dense: input dimensions %v incompatible with weight dimensions %v",
			dims, d.Weight.Dimensions())
	}
	inputDim := dims[len(dims)-1]
	rows := 1
	for _, dim := range dims[:len(dims)-1] {
		rows *= dim
	}
	output := tensors.MatMulTransposed(x.Reshape(rows, inputDim), d.Weight)
	if d.Bias != nil {
		tensors.AddRowVector(output, d.Bias)
	}
	dims[len(dims)-1] = d.OutputDim()
	return output.Reshape(dims...)
}

// Dropout randomly replaces elements of x with zeros, with probability dropoutRate, if training is true.
// The kept values are scaled by 1/(1-dropoutRate), to preserve the mean of the values of the input.
//
// If `dropoutRate <= 0` or it's not training, this is a no-op and x is returned unchanged.
// Otherwise, a new tensor is returned. Randomness is drawn from ctx.
func Dropout(ctx *context.Context, x *tensors.Tensor, dropoutRate float64, training bool) *tensors.Tensor {
	if !training || dropoutRate <= 0 {
		return x
	}
	if dropoutRate >= 1 {
		exceptions.Panicf("layers.Dropout: dropoutRate must be < 1, got %g", dropoutRate)
	}
	output := x.Clone()
	flat := output.Flat()
	mask := make([]float64, len(flat))
	ctx.RandomBernoulli(mask, 1-dropoutRate)
	scale := 1 / (1 - dropoutRate)
	for ii := range flat {
		flat[ii] *= mask[ii] * scale
	}
	return output
}
