// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses has standard losses used to evaluate a model, e.g.: the perplexity of a language model is the
// exponential of the mean cross-entropy of its next-character predictions.
package losses

import (
	"math"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

// MaskedLabel can be used as a label to exclude the example from the loss.
const MaskedLabel = -1

// SparseCategoricalCrossEntropyLogits returns the cross-entropy loss of the logits, given the labels.
// The labels are provided in "sparse" format, that is, integer numbers from 0 to logits dimension-1.
// logits is shaped `[<batch dimensions...>, numClasses]`, and there must be one label per batch element,
// in row-major order.
//
// Labels set to MaskedLabel get a loss of 0.
//
// It *does not* reduce-mean the losses, they are returned individually for each element of the batch.
// See MeanSparseCategoricalCrossEntropyLogits.
func SparseCategoricalCrossEntropyLogits(labels []int, logits *tensors.Tensor) []float64 {
	if logits.Rank() < 1 {
		exceptions.Panicf("losses: logits must have at least rank 1, got dimensions %v", logits.Dimensions())
	}
	numClasses := logits.Dim(-1)
	numExamples := logits.Size() / max(numClasses, 1)
	if numClasses == 0 {
		exceptions.Panicf("losses: logits have 0 classes (dimensions %v)", logits.Dimensions())
	}
	if len(labels) != numExamples {
		exceptions.Panicf("losses: %d labels given for %d examples (logits dimensions %v)",
			len(labels), numExamples, logits.Dimensions())
	}
	flat := logits.Flat()
	losses := make([]float64, numExamples)
	for ii, label := range labels {
		if label == MaskedLabel {
			continue
		}
		if label < 0 || label >= numClasses {
			exceptions.Panicf("losses: label %d at position %d out of range for %d classes", label, ii, numClasses)
		}
		row := flat[ii*numClasses : (ii+1)*numClasses]
		// -log(softmax(row)[label])
		losses[ii] = floats.LogSumExp(row) - row[label]
	}
	return losses
}

// MeanSparseCategoricalCrossEntropyLogits is the mean of SparseCategoricalCrossEntropyLogits over the
// examples that are not masked. It returns NaN if there are no such examples.
func MeanSparseCategoricalCrossEntropyLogits(labels []int, logits *tensors.Tensor) float64 {
	losses := SparseCategoricalCrossEntropyLogits(labels, logits)
	var count int
	for _, label := range labels {
		if label != MaskedLabel {
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return floats.Sum(losses) / float64(count)
}
