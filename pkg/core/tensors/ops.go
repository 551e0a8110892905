// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// general wraps the rank-2 tensor as a BLAS matrix.
func (t *Tensor) general() blas64.General {
	if t.Rank() != 2 {
		exceptions.Panicf("tensors: expected a matrix (rank 2), got dimensions %v", t.dimensions)
	}
	return blas64.General{Rows: t.dimensions[0], Cols: t.dimensions[1], Stride: t.dimensions[1], Data: t.flat}
}

// MatMul returns the matrix product of lhs [m, k] and rhs [k, n], shaped [m, n].
func MatMul(lhs, rhs *Tensor) *Tensor {
	return matMul(lhs, rhs, false)
}

// MatMulTransposed returns lhs [m, k] times the transpose of rhs [n, k], shaped [m, n].
//
// This is the layout of linear layer weights, stored as [outputs, inputs].
func MatMulTransposed(lhs, rhs *Tensor) *Tensor {
	return matMul(lhs, rhs, true)
}

func matMul(lhs, rhs *Tensor, transposeRHS bool) *Tensor {
	a, b := lhs.general(), rhs.general()
	bRows, bCols := b.Rows, b.Cols
	tB := blas.NoTrans
	if transposeRHS {
		bRows, bCols = bCols, bRows
		tB = blas.Trans
	}
	if a.Cols != bRows {
		exceptions.Panicf("tensors.MatMul: incompatible dimensions %v and %v (transposeRHS=%v)",
			lhs.dimensions, rhs.dimensions, transposeRHS)
	}
	result := Zeros(a.Rows, bCols)
	if a.Rows == 0 || bCols == 0 || a.Cols == 0 {
		return result
	}
	blas64.Gemm(blas.NoTrans, tB, 1, a, b, 0, result.general())
	return result
}

// AddRowVector adds the vector [n] to every row of the matrix [m, n], in place, and returns the matrix.
func AddRowVector(matrix, vector *Tensor) *Tensor {
	if matrix.Rank() != 2 || vector.Rank() != 1 || matrix.dimensions[1] != vector.dimensions[0] {
		exceptions.Panicf("tensors.AddRowVector: incompatible dimensions %v and %v", matrix.dimensions, vector.dimensions)
	}
	cols := vector.dimensions[0]
	for row := range matrix.dimensions[0] {
		rowValues := matrix.flat[row*cols : (row+1)*cols]
		for col, value := range vector.flat {
			rowValues[col] += value
		}
	}
	return matrix
}

// Concatenate tensors along the given axis. All other dimensions must match.
func Concatenate(axis int, operands ...*Tensor) *Tensor {
	if len(operands) == 0 {
		exceptions.Panicf("tensors.Concatenate: no operands given")
	}
	if len(operands) == 1 {
		return operands[0].Clone()
	}
	first := operands[0]
	axis = first.adjustAxis(axis)
	dimensions := slices.Clone(first.dimensions)
	dimensions[axis] = 0
	for ii, operand := range operands {
		if operand.Rank() != first.Rank() {
			exceptions.Panicf("tensors.Concatenate: operand #%d has rank %d, expected %d", ii, operand.Rank(), first.Rank())
		}
		for otherAxis, dim := range operand.dimensions {
			if otherAxis != axis && dim != first.dimensions[otherAxis] {
				exceptions.Panicf("tensors.Concatenate: operand #%d dimensions %v incompatible with %v on axis %d",
					ii, operand.dimensions, first.dimensions, axis)
			}
		}
		dimensions[axis] += operand.dimensions[axis]
	}

	// outer: product of the axes before axis; inner: product of the axes after it.
	outer, inner := 1, 1
	for _, dim := range dimensions[:axis] {
		outer *= dim
	}
	for _, dim := range dimensions[axis+1:] {
		inner *= dim
	}
	result := Zeros(dimensions...)
	pos := 0
	for outerIdx := range outer {
		for _, operand := range operands {
			blockSize := operand.dimensions[axis] * inner
			copy(result.flat[pos:pos+blockSize], operand.flat[outerIdx*blockSize:(outerIdx+1)*blockSize])
			pos += blockSize
		}
	}
	return result
}

// Map applies fn to every element in place and returns the tensor.
func (t *Tensor) Map(fn func(value float64) float64) *Tensor {
	for ii, value := range t.flat {
		t.flat[ii] = fn(value)
	}
	return t
}
