// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a dense row-major multidimensional array of float64 values.
//
// It is the numeric runtime of the character language model: weights, activations, logits and
// hidden states are all stored as tensors. There is no automatic differentiation, so a Tensor is
// simply a value: "detaching" it from a computation is the same as cloning it.
//
// There are various ways to construct a Tensor:
//
//   - Zeros(dimensions ...int): a tensor with the given dimensions filled with zeros.
//
//   - FromScalarAndDimensions(value, dimensions ...int): a tensor with the given dimensions, filled with value.
//
//   - FromFlatDataAndDimensions(data, dimensions ...int): a tensor that takes ownership of the flat data.
//     Example:
//
//     t := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value [][]float64): a rank-2 tensor from a regular 2D slice.
//
// Contract violations (mismatched shapes, out-of-bounds axes) panic with an error, using
// github.com/gomlx/exceptions, the same way graph building code does.
package tensors

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Tensor is a dense float64 multidimensional array. The zero value is not valid: use one of the constructors.
type Tensor struct {
	dimensions []int
	flat       []float64
}

// sizeOf returns the number of elements for the given dimensions. It panics on negative dimensions.
func sizeOf(dimensions []int) int {
	size := 1
	for axis, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("tensors: invalid dimension %d for axis %d in %v", dim, axis, dimensions)
		}
		size *= dim
	}
	return size
}

// Zeros creates a tensor with the given dimensions, filled with zeros.
// A tensor without dimensions is a scalar.
func Zeros(dimensions ...int) *Tensor {
	return &Tensor{
		dimensions: slices.Clone(dimensions),
		flat:       make([]float64, sizeOf(dimensions)),
	}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with value.
func FromScalarAndDimensions(value float64, dimensions ...int) *Tensor {
	t := Zeros(dimensions...)
	for ii := range t.flat {
		t.flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, using data as its storage.
// The tensor takes ownership of data: it must not be modified afterward by the caller.
func FromFlatDataAndDimensions(data []float64, dimensions ...int) *Tensor {
	if size := sizeOf(dimensions); size != len(data) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: data has %d elements, but dimensions %v require %d",
			len(data), dimensions, size)
	}
	return &Tensor{dimensions: slices.Clone(dimensions), flat: data}
}

// FromValue creates a rank-2 tensor from a regular 2D slice: all rows must have the same length.
func FromValue(value [][]float64) *Tensor {
	rows := len(value)
	if rows == 0 {
		return Zeros(0, 0)
	}
	cols := len(value[0])
	t := Zeros(rows, cols)
	for row, values := range value {
		if len(values) != cols {
			exceptions.Panicf("tensors.FromValue: row %d has %d columns, expected %d", row, len(values), cols)
		}
		copy(t.flat[row*cols:], values)
	}
	return t
}

// Dimensions returns a copy of the tensor dimensions.
func (t *Tensor) Dimensions() []int {
	return slices.Clone(t.dimensions)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.dimensions)
}

// Dim returns the dimension of the given axis. Negative axes are counted from the end.
func (t *Tensor) Dim(axis int) int {
	adjusted := t.adjustAxis(axis)
	return t.dimensions[adjusted]
}

// adjustAxis converts negative axes and checks bounds.
func (t *Tensor) adjustAxis(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += len(t.dimensions)
	}
	if adjusted < 0 || adjusted >= len(t.dimensions) {
		exceptions.Panicf("tensors: axis %d out-of-bounds for rank %d (dimensions=%v)", axis, len(t.dimensions), t.dimensions)
	}
	return adjusted
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.flat)
}

// Memory returns the number of bytes used by the values.
func (t *Tensor) Memory() uintptr {
	return uintptr(len(t.flat)) * 8
}

// Flat returns the underlying storage of the tensor, in row-major order.
// Changes to the returned slice change the tensor.
func (t *Tensor) Flat() []float64 {
	return t.flat
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{dimensions: slices.Clone(t.dimensions), flat: slices.Clone(t.flat)}
}

// Reshape returns a tensor with new dimensions sharing the same storage.
// One of the dimensions can be -1, in which case it is inferred from the others.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	dimensions = slices.Clone(dimensions)
	inferred := -1
	known := 1
	for axis, dim := range dimensions {
		if dim == -1 {
			if inferred >= 0 {
				exceptions.Panicf("tensors.Reshape(%v): only one dimension can be inferred", dimensions)
			}
			inferred = axis
			continue
		}
		known *= dim
	}
	if inferred >= 0 {
		if known == 0 || len(t.flat)%known != 0 {
			exceptions.Panicf("tensors.Reshape(%v): cannot infer dimension for tensor of size %d", dimensions, len(t.flat))
		}
		dimensions[inferred] = len(t.flat) / known
	}
	if size := sizeOf(dimensions); size != len(t.flat) {
		exceptions.Panicf("tensors.Reshape(%v): tensor of dimensions %v has %d elements, not %d",
			dimensions, t.dimensions, len(t.flat), size)
	}
	return &Tensor{dimensions: dimensions, flat: t.flat}
}

// strides returns the row-major strides of the tensor.
func (t *Tensor) strides() []int {
	strides := make([]int, len(t.dimensions))
	stride := 1
	for axis := len(t.dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= t.dimensions[axis]
	}
	return strides
}

// flatIndex converts indices to a position in the flat storage.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.dimensions) {
		exceptions.Panicf("tensors: %d indices given for tensor of rank %d", len(indices), len(t.dimensions))
	}
	strides := t.strides()
	pos := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= t.dimensions[axis] {
			exceptions.Panicf("tensors: index %d out-of-bounds for axis %d (dimensions=%v)", idx, axis, t.dimensions)
		}
		pos += idx * strides[axis]
	}
	return pos
}

// At returns the value at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.flat[t.flatIndex(indices)]
}

// Set the value at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.flat[t.flatIndex(indices)] = value
}

// Slice returns a copy of the sub-tensor with the range [start, end) of the first axis.
func (t *Tensor) Slice(start, end int) *Tensor {
	if t.Rank() == 0 {
		exceptions.Panicf("tensors.Slice: cannot slice a scalar")
	}
	if start < 0 || end > t.dimensions[0] || start > end {
		exceptions.Panicf("tensors.Slice(%d, %d): invalid range for dimensions %v", start, end, t.dimensions)
	}
	rowSize := 1
	for _, dim := range t.dimensions[1:] {
		rowSize *= dim
	}
	dimensions := slices.Clone(t.dimensions)
	dimensions[0] = end - start
	return &Tensor{dimensions: dimensions, flat: slices.Clone(t.flat[start*rowSize : end*rowSize])}
}

// Equal returns whether both tensors have the same dimensions and exactly the same values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	return slices.Equal(t.dimensions, other.dimensions) && slices.Equal(t.flat, other.flat)
}

// InDelta checks whether Abs(t - other) <= delta for every element, and that the dimensions are the same.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if t == other {
		return true
	}
	if !slices.Equal(t.dimensions, other.dimensions) {
		return false
	}
	for ii, value := range t.flat {
		if math.Abs(value-other.flat[ii]) > delta {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. It only prints the dimensions and, for small tensors, the values.
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor%v", t.dimensions)
	if len(t.flat) <= 16 {
		fmt.Fprintf(&sb, "%v", t.flat)
	}
	return sb.String()
}
