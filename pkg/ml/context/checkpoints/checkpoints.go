// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of a Record, a set of parameters and variables, to and from
// a single file ("blob").
//
// The blob starts with a header that identifies it and its compression format, followed by the payload,
// compressed with gzip by default:
//
//	| "charlm_checkpoint" | len (1 byte) | format name ("gzip" or "uncompressed") | payload |
//
// The payload holds the length of the JSON metadata (8 bytes, big-endian), the JSON metadata and then the raw
// values of the variables, in little-endian. The metadata lists the parameters (with their original Go type, since
// the JSON decoder cannot recover it) and the position of each variable in the raw data.
//
// Example: saving and loading a Record:
//
//	record := checkpoints.NewRecord().
//		SetParam("hidden_size", 128).
//		AddVariable("decoder.weight", weight)
//	err := checkpoints.Save(path, record, checkpoints.WithHalfPrecision())
//	…
//	record, err = checkpoints.Load(path)
//	hiddenSize, err := checkpoints.ParamAs[int](record, "hidden_size")
//
// Save writes to a temporary file in the same directory and renames it over the destination, so a
// checkpoint file is always complete, even if the program is interrupted while saving.
package checkpoints

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/core/tensors"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrUnsupportedFormat signifies the blob is not a checkpoint, or it uses an unsupported compression.
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")
)

const (
	binHeader    = "charlm_checkpoint"
	lenBinHeader = len(binHeader)

	// maxMetadataLength is a sanity limit on the JSON metadata, to fail early on corrupt files.
	maxMetadataLength = 1 << 30

	// maxVariablesLength is a sanity limit on the total size of the raw variables data.
	maxVariablesLength = 1 << 36
)

// serializedData is how the metadata is read and written from storage.
type serializedData struct {
	Params []serializedParam `json:"params"`

	// Variables in the order they are stored.
	Variables []serializedVar `json:"variables"`
}

// serializedVar contains information about the variable that was serialized.
type serializedVar struct {
	Name string `json:"name"`

	// Dimensions of the tensor.
	Dimensions []int `json:"dimensions"`

	// DType used in storage: "float64" or "float16".
	DType string `json:"dtype"`

	// Pos, Length in bytes in the raw data.
	Pos    int `json:"pos"`
	Length int `json:"length"`
}

// serializedParam represents a serialized parameter.
// It includes the original ValueType, because Json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type serializedParam struct {
	Key       string `json:"key"`
	Value     any    `json:"value"`
	ValueType string `json:"value_type"`
}

// jsonDecodeTypeConvert attempts to convert the Value decoded by Json into
// the original ValueType.
//
// E.g.: Json decoder will decode all numbers to float64. So we cast it to the
// given ValueType.
func (p *serializedParam) jsonDecodeTypeConvert() {
	// Switch on current Json type:
	switch value := p.Value.(type) {
	case float64:
		// All numbers when converted to `any` by the json decoders become float64,
		// here we convert them back.
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int8":
			p.Value = int8(value)
		case "int16":
			p.Value = int16(value)
		case "int32":
			p.Value = int32(value)
		case "int64":
			p.Value = int64(value)
		case "uint":
			p.Value = uint(value)
		case "uint8":
			p.Value = uint8(value)
		case "uint16":
			p.Value = uint16(value)
		case "uint32":
			p.Value = uint32(value)
		case "uint64":
			p.Value = uint64(value)
		case "float32":
			p.Value = float32(value)
		}

	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = convertNumbers[int](value)
		case "[]int64":
			p.Value = convertNumbers[int64](value)
		case "[]float32":
			p.Value = convertNumbers[float32](value)
		case "[]float64":
			p.Value = convertNumbers[float64](value)
		case "[]string":
			values := make([]string, len(value))
			for ii, sAny := range value {
				values[ii], _ = sAny.(string)
			}
			p.Value = values
		}
	default:
		// No other types converted for now.
		return
	}
}

// convertNumbers converts a slice decoded by Json (all numbers become float64) to a slice of T.
func convertNumbers[T constraints.Integer | constraints.Float](values []any) []T {
	converted := make([]T, len(values))
	for ii, fAny := range values {
		f, _ := fAny.(float64) // Json decoder converts any numbers to float64.
		converted[ii] = T(f)
	}
	return converted
}

// Write the record as a blob to w.
//
// By default, the payload is compressed with gzip and the variables are stored as float64.
// See WithCompression and WithHalfPrecision.
func Write(w io.Writer, r *Record, options ...Option) error {
	opts := collectOptions(options...)
	bw := bufio.NewWriter(w)

	// Header.
	formatName := opts.binFormat.String()
	header := make([]byte, 0, lenBinHeader+1+len(formatName))
	header = append(header, []byte(binHeader)...)
	header = append(header, byte(len(formatName)))
	header = append(header, []byte(formatName)...)
	if _, err := bw.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}

	var payload io.Writer = bw
	var gz *gzip.Writer
	if opts.binFormat == BinGZIP {
		gz = gzip.NewWriter(bw)
		payload = gz
	}

	// Metadata.
	dtype := Float64
	if opts.halfPrecision {
		dtype = Float16
	}
	serialized := &serializedData{
		Params:    r.params,
		Variables: make([]serializedVar, 0, len(r.variables)),
	}
	if serialized.Params == nil {
		serialized.Params = []serializedParam{}
	}
	pos := 0
	for _, v := range r.variables {
		length := v.Value.Size() * dtype.Size()
		serialized.Variables = append(serialized.Variables, serializedVar{
			Name:       v.Name,
			Dimensions: v.Value.Dimensions(),
			DType:      dtype.String(),
			Pos:        pos,
			Length:     length,
		})
		pos += length
	}
	metadata, err := json.Marshal(serialized)
	if err != nil {
		return errors.Wrap(err, "failed to serialize checkpoint metadata to JSON")
	}
	if err = binary.Write(payload, binary.BigEndian, uint64(len(metadata))); err != nil {
		return errors.Wrap(err, "write metadata length")
	}
	if _, err = payload.Write(metadata); err != nil {
		return errors.Wrap(err, "write metadata")
	}

	// Raw values.
	for _, v := range r.variables {
		if _, err = payload.Write(encodeValues(v.Value.Flat(), dtype)); err != nil {
			return errors.Wrapf(err, "write variable %q", v.Name)
		}
	}

	if gz != nil {
		if err = gz.Close(); err != nil {
			return errors.Wrap(err, "close gzip stream")
		}
	}
	return errors.Wrap(bw.Flush(), "flush checkpoint")
}

// encodeValues in little-endian, using dtype.
func encodeValues(values []float64, dtype DType) []byte {
	buf := make([]byte, len(values)*dtype.Size())
	switch dtype {
	case Float16:
		for ii, v := range values {
			binary.LittleEndian.PutUint16(buf[ii*2:], float16.Fromfloat32(float32(v)).Bits())
		}
	default:
		for ii, v := range values {
			binary.LittleEndian.PutUint64(buf[ii*8:], math.Float64bits(v))
		}
	}
	return buf
}

// decodeValues is the inverse of encodeValues.
func decodeValues(buf []byte, dtype DType) []float64 {
	values := make([]float64, len(buf)/dtype.Size())
	switch dtype {
	case Float16:
		for ii := range values {
			values[ii] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[ii*2:])).Float32())
		}
	default:
		for ii := range values {
			values[ii] = math.Float64frombits(binary.LittleEndian.Uint64(buf[ii*8:]))
		}
	}
	return values
}

// Read a blob written by Write. It returns an error wrapping ErrUnsupportedFormat if the blob doesn't start
// with the expected header or if its compression is unknown.
func Read(rd io.Reader) (*Record, error) {
	br := bufio.NewReader(rd)
	buf := make([]byte, lenBinHeader)
	if _, err := io.ReadFull(br, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.Wrap(ErrUnsupportedFormat, "blob too short for header")
		}
		return nil, errors.Wrap(err, "read header")
	}
	if string(buf) != binHeader {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "missing %q header", binHeader)
	}
	lenFormatName, err := br.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	formatName := make([]byte, lenFormatName)
	if _, err = io.ReadFull(br, formatName); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	binFormat, ok := binFormatFromName(string(formatName))
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "compression %q", formatName)
	}

	var payload io.Reader = br
	if binFormat == BinGZIP {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "read gzip header")
		}
		defer func() { _ = gz.Close() }()
		payload = gz
	}

	// Metadata.
	var metadataLength uint64
	if err = binary.Read(payload, binary.BigEndian, &metadataLength); err != nil {
		return nil, errors.Wrap(err, "read metadata length")
	}
	if metadataLength > maxMetadataLength {
		return nil, errors.Errorf("checkpoint metadata length %d is invalid, file is likely corrupt", metadataLength)
	}
	metadata := make([]byte, metadataLength)
	if _, err = io.ReadFull(payload, metadata); err != nil {
		return nil, errors.Wrap(err, "read metadata")
	}
	serialized := &serializedData{}
	if err = json.Unmarshal(metadata, serialized); err != nil {
		return nil, errors.Wrap(err, "failed to parse checkpoint metadata")
	}

	r := NewRecord()
	r.binFormat = binFormat
	for _, param := range serialized.Params {
		param.jsonDecodeTypeConvert()
		r.paramsIdx[param.Key] = len(r.params)
		r.params = append(r.params, param)
	}

	// Raw values, stored sequentially.
	pos := 0
	for _, sVar := range serialized.Variables {
		dtype, err := dtypeFromName(sVar.DType)
		if err != nil {
			return nil, errors.WithMessagef(err, "variable %q", sVar.Name)
		}
		size := 1
		for _, dim := range sVar.Dimensions {
			if dim < 0 {
				return nil, errors.Errorf("variable %q has invalid dimensions %v", sVar.Name, sVar.Dimensions)
			}
			if dim > maxVariablesLength || (dim > 0 && size*dtype.Size() > (maxVariablesLength-pos)/dim) {
				return nil, errors.Errorf("variable %q with dimensions %v exceeds the maximum size of %d bytes of "+
					"variables, file is likely corrupt", sVar.Name, sVar.Dimensions, maxVariablesLength)
			}
			size *= dim
		}
		if sVar.Pos != pos || sVar.Length != size*dtype.Size() {
			return nil, errors.Errorf("variable %q with dimensions %v stored at [%d, %d), expected [%d, %d)",
				sVar.Name, sVar.Dimensions, sVar.Pos, sVar.Pos+sVar.Length, pos, pos+size*dtype.Size())
		}
		// The buffer grows as data arrives, so a truncated file fails before allocating the claimed length.
		var buf bytes.Buffer
		if _, err = io.CopyN(&buf, payload, int64(sVar.Length)); err != nil {
			return nil, errors.Wrapf(err, "read variable %q", sVar.Name)
		}
		raw := buf.Bytes()
		pos += sVar.Length
		r.AddVariable(sVar.Name, tensors.FromFlatDataAndDimensions(decodeValues(raw, dtype), sVar.Dimensions...))
		r.Variable(sVar.Name).DType = dtype
	}
	return r, nil
}

// Save writes the record to the file in path, atomically: it first writes to a temporary file in the same
// directory, and then renames it to path. The directory is created if it doesn't exist.
func Save(path string, r *Record, options ...Option) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create directory %q for checkpoint", dir)
	}
	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary checkpoint file %q", tmpPath)
	}
	removeTmp := func() { _ = os.Remove(tmpPath) }
	if err = Write(f, r, options...); err != nil {
		_ = f.Close()
		removeTmp()
		return errors.WithMessagef(err, "saving checkpoint to %q", path)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		removeTmp()
		return errors.Wrapf(err, "failed to sync %q", tmpPath)
	}
	if err = f.Close(); err != nil {
		removeTmp()
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		removeTmp()
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, path)
	}
	klog.V(1).Infof("checkpoints: saved %d params and %d variables (%d values) to %q",
		len(r.params), len(r.variables), r.NumValues(), path)
	return nil
}

// Load reads the Record saved in path.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	defer func() { _ = f.Close() }()
	r, err := Read(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint %q", path)
	}
	klog.V(1).Infof("checkpoints: loaded %d params and %d variables (%d values) from %q",
		len(r.params), len(r.variables), r.NumValues(), path)
	return r, nil
}
