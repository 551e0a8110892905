// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

// DType of the values of a variable, as stored.
type DType int

const (
	Float64 DType = iota
	Float16
)

// String implements fmt.Stringer. The names are the ones used in the serialized metadata.
func (dtype DType) String() string {
	switch dtype {
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	default:
		return "invalid"
	}
}

// Size in bytes of one value.
func (dtype DType) Size() int {
	switch dtype {
	case Float64:
		return 8
	case Float16:
		return 2
	default:
		return 0
	}
}

func dtypeFromName(name string) (DType, error) {
	switch name {
	case "float64":
		return Float64, nil
	case "float16":
		return Float16, nil
	default:
		return Float64, errors.Errorf("checkpoints: unsupported dtype %q", name)
	}
}

// Variable is a named tensor in a Record.
type Variable struct {
	Name  string
	Value *tensors.Tensor

	// DType used in storage. Set when the Record is read, informative only.
	DType DType
}

// Record is the content of a checkpoint: an ordered set of parameters (JSON serializable values) and an ordered
// set of named variables (tensors).
//
// A Record is not safe for concurrent modification.
type Record struct {
	params    []serializedParam
	paramsIdx map[string]int

	variables []*Variable
	varsIdx   map[string]int

	// binFormat the record was read with, informative.
	binFormat BinFormat
}

// NewRecord creates an empty Record.
func NewRecord() *Record {
	return &Record{
		paramsIdx: make(map[string]int),
		varsIdx:   make(map[string]int),
	}
}

// SetParam sets the value of the parameter key. The value must be JSON serializable, and it's recovered with
// the same Go type for the basic types (bool, string, int*, uint*, float*, and slices of int, float64 or string).
// Other values (e.g. maps) are recovered the way the JSON decoder generates them.
//
// A nil value is stored as null, and it's different from a missing parameter.
//
// It returns the Record, so calls can be cascaded.
func (r *Record) SetParam(key string, value any) *Record {
	param := serializedParam{Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)}
	if idx, found := r.paramsIdx[key]; found {
		r.params[idx] = param
		return r
	}
	r.paramsIdx[key] = len(r.params)
	r.params = append(r.params, param)
	return r
}

// Param returns the value of the parameter key, and whether it was found.
func (r *Record) Param(key string) (value any, found bool) {
	idx, found := r.paramsIdx[key]
	if !found {
		return nil, false
	}
	return r.params[idx].Value, true
}

// ParamKeys returns the keys of the parameters, in the order they were set.
func (r *Record) ParamKeys() []string {
	keys := make([]string, len(r.params))
	for ii, param := range r.params {
		keys[ii] = param.Key
	}
	return keys
}

// ParamAs returns the value of the parameter key converted to T. It returns an error if the parameter
// is missing or if it is of a different type.
func ParamAs[T any](r *Record, key string) (T, error) {
	var zero T
	value, found := r.Param(key)
	if !found {
		return zero, errors.Errorf("checkpoints: parameter %q missing", key)
	}
	t, ok := value.(T)
	if !ok {
		return zero, errors.Errorf("checkpoints: parameter %q is of type %T, expected %T", key, value, zero)
	}
	return t, nil
}

// AddVariable with the given name. If a variable with the same name already exists, it is replaced.
// The tensor is not copied: it must not be changed until the Record is written.
//
// It returns the Record, so calls can be cascaded.
func (r *Record) AddVariable(name string, value *tensors.Tensor) *Record {
	v := &Variable{Name: name, Value: value, DType: Float64}
	if idx, found := r.varsIdx[name]; found {
		r.variables[idx] = v
		return r
	}
	r.varsIdx[name] = len(r.variables)
	r.variables = append(r.variables, v)
	return r
}

// Variable returns the variable with the given name, or nil if not found.
func (r *Record) Variable(name string) *Variable {
	idx, found := r.varsIdx[name]
	if !found {
		return nil
	}
	return r.variables[idx]
}

// Variables returns the variables, in the order they were added.
func (r *Record) Variables() []*Variable {
	return slices.Clone(r.variables)
}

// NumVariables returns the number of variables.
func (r *Record) NumVariables() int {
	return len(r.variables)
}

// NumValues returns the sum of the sizes of all variables.
func (r *Record) NumValues() int {
	var total int
	for _, v := range r.variables {
		total += v.Value.Size()
	}
	return total
}

// BinFormat returns the compression format of the blob the record was read from.
func (r *Record) BinFormat() BinFormat {
	return r.binFormat
}
