// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

func testRecord() *Record {
	return NewRecord().
		SetParam("learning_rate", 0.01).
		SetParam("hidden_size", 128).
		SetParam("epoch", int64(3)).
		SetParam("is_forward", true).
		SetParam("name", "test").
		SetParam("nout", nil).
		SetParam("items", []string{"\n", "a", " "}).
		SetParam("sizes", []int{1, 2, 3}).
		AddVariable("w", tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6.5}})).
		AddVariable("b", tensors.FromFlatDataAndDimensions([]float64{-0.125, 1e-3}, 2)).
		AddVariable("empty", tensors.Zeros(0, 4))
}

func checkParams(t *testing.T, r *Record) {
	assert.Equal(t, []string{"learning_rate", "hidden_size", "epoch", "is_forward", "name", "nout", "items", "sizes"},
		r.ParamKeys())
	lr, err := ParamAs[float64](r, "learning_rate")
	require.NoError(t, err)
	assert.Equal(t, 0.01, lr)
	hiddenSize, err := ParamAs[int](r, "hidden_size")
	require.NoError(t, err)
	assert.Equal(t, 128, hiddenSize)
	epoch, err := ParamAs[int64](r, "epoch")
	require.NoError(t, err)
	assert.Equal(t, int64(3), epoch)
	isForward, err := ParamAs[bool](r, "is_forward")
	require.NoError(t, err)
	assert.True(t, isForward)
	items, err := ParamAs[[]string](r, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"\n", "a", " "}, items)
	sizes, err := ParamAs[[]int](r, "sizes")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sizes)

	nout, found := r.Param("nout")
	assert.True(t, found)
	assert.Nil(t, nout)
	_, found = r.Param("missing")
	assert.False(t, found)
	_, err = ParamAs[int](r, "missing")
	require.Error(t, err)
	_, err = ParamAs[string](r, "hidden_size")
	require.Error(t, err)
}

func TestRecord(t *testing.T) {
	r := testRecord()
	checkParams(t, r)
	assert.Equal(t, 3, r.NumVariables())
	assert.Equal(t, 8, r.NumValues())
	assert.Nil(t, r.Variable("missing"))

	// Replacing keeps the order.
	r.SetParam("learning_rate", 0.1)
	r.AddVariable("w", tensors.Zeros(1))
	assert.Equal(t, "learning_rate", r.ParamKeys()[0])
	assert.Equal(t, "w", r.Variables()[0].Name)
	assert.Equal(t, 1, r.Variable("w").Value.Size())
}

func TestWriteRead(t *testing.T) {
	for _, bf := range []BinFormat{BinGZIP, BinUncompressed} {
		t.Run(bf.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, testRecord(), WithCompression(bf)))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(binHeader)))

			r, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, bf, r.BinFormat())
			checkParams(t, r)

			want := testRecord()
			require.Equal(t, want.NumVariables(), r.NumVariables())
			for ii, v := range r.Variables() {
				wantV := want.Variables()[ii]
				assert.Equal(t, wantV.Name, v.Name)
				assert.Equal(t, Float64, v.DType)
				assert.Truef(t, wantV.Value.Equal(v.Value), "variable %q: want %s, got %s", v.Name, wantV.Value, v.Value)
			}
		})
	}
}

func TestHalfPrecision(t *testing.T) {
	var full, half bytes.Buffer
	r := NewRecord().AddVariable("w", tensors.FromScalarAndDimensions(0.1, 100, 100))
	require.NoError(t, Write(&full, r, WithCompression(BinUncompressed)))
	require.NoError(t, Write(&half, r, WithCompression(BinUncompressed), WithHalfPrecision()))
	assert.Less(t, half.Len(), full.Len()/3)

	loaded, err := Read(&half)
	require.NoError(t, err)
	v := loaded.Variable("w")
	require.NotNil(t, v)
	assert.Equal(t, Float16, v.DType)
	assert.Equal(t, []int{100, 100}, v.Value.Dimensions())
	assert.True(t, r.Variable("w").Value.InDelta(v.Value, 1e-4))
	assert.False(t, r.Variable("w").Value.Equal(v.Value))
}

func TestReadErrors(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a checkpoint at all, but long enough")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = Read(bytes.NewReader([]byte("short")))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	var blob []byte
	blob = append(blob, []byte(binHeader)...)
	blob = append(blob, 4)
	blob = append(blob, []byte("zstd")...)
	_, err = Read(bytes.NewReader(blob))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	// Truncated payload.
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testRecord(), WithCompression(BinUncompressed)))
	_, err = Read(bytes.NewReader(buf.Bytes()[:buf.Len()-4]))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedFormat))
}

// uncompressedBlob builds a checkpoint with the given variables metadata, followed by data.
func uncompressedBlob(t *testing.T, vars []serializedVar, data []byte) []byte {
	t.Helper()
	metadata, err := json.Marshal(&serializedData{Variables: vars})
	require.NoError(t, err)
	var blob bytes.Buffer
	blob.WriteString(binHeader)
	formatName := BinUncompressed.String()
	blob.WriteByte(byte(len(formatName)))
	blob.WriteString(formatName)
	require.NoError(t, binary.Write(&blob, binary.BigEndian, uint64(len(metadata))))
	blob.Write(metadata)
	blob.Write(data)
	return blob.Bytes()
}

func TestReadCorruptVariables(t *testing.T) {
	// Sanity check of the blob builder: a valid single variable.
	blob := uncompressedBlob(t, []serializedVar{{Name: "x", Dimensions: []int{2}, DType: "float64", Length: 16}},
		make([]byte, 16))
	r, err := Read(bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, r.Variable("x").Value.Dimensions())

	for name, vars := range map[string][]serializedVar{
		"overflow":  {{Name: "x", Dimensions: []int{1 << 40, 1 << 40, 1 << 40}, DType: "float64", Length: 0}},
		"too large": {{Name: "x", Dimensions: []int{1 << 34}, DType: "float64", Length: 1 << 37}},
		"total too large": {
			{Name: "x", Dimensions: []int{1 << 32}, DType: "float64", Length: 1 << 35},
			{Name: "y", Dimensions: []int{1 << 32}, DType: "float64", Pos: 1 << 35, Length: 1 << 35},
		},
		"negative": {{Name: "x", Dimensions: []int{-2}, DType: "float64", Length: -16}},
	} {
		_, err := Read(bytes.NewReader(uncompressedBlob(t, vars, nil)))
		require.Errorf(t, err, "metadata %q should fail", name)
	}

	// Claimed length within limits, but missing data: it fails without allocating the claimed length.
	blob = uncompressedBlob(t, []serializedVar{{Name: "x", Dimensions: []int{1 << 30}, DType: "float64", Length: 1 << 33}},
		make([]byte, 100))
	_, err = Read(bytes.NewReader(blob))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read variable \"x\"")
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "model.ckpt")
	require.NoError(t, Save(path, testRecord()))

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.ckpt", entries[0].Name())

	r, err := Load(path)
	require.NoError(t, err)
	checkParams(t, r)
	assert.Equal(t, 3, r.NumVariables())

	// Overwrite.
	require.NoError(t, Save(path, NewRecord().SetParam("x", 1)))
	r, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, r.ParamKeys())
	assert.Equal(t, 0, r.NumVariables())

	_, err = Load(filepath.Join(dir, "missing.ckpt"))
	require.Error(t, err)
}
