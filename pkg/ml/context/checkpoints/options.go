// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

// BinFormat defines the type for representing binary file compression formats.
type BinFormat int

const (

	// BinGZIP represents the GZIP compressed binary file format.
	BinGZIP BinFormat = iota
	// BinUncompressed represents the uncompressed binary file format.
	BinUncompressed
)

// String implements the Stringer interface.
func (bf BinFormat) String() string {
	switch bf {
	case BinGZIP:
		return "gzip"
	case BinUncompressed:
		return "uncompressed"
	default:
		return "unknown"
	}
}

// binFormatFromName is the inverse of BinFormat.String. It returns false for unknown names.
func binFormatFromName(name string) (BinFormat, bool) {
	switch name {
	case "gzip":
		return BinGZIP, true
	case "uncompressed":
		return BinUncompressed, true
	default:
		return BinGZIP, false
	}
}

type writeOptions struct {
	binFormat     BinFormat
	halfPrecision bool
}

// Option allows parameterizing how a Record is written.
type Option func(opts *writeOptions)

func collectOptions(options ...Option) *writeOptions {
	opts := &writeOptions{}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// WithCompression defines the compression format of the blob. The default mode is BinGZIP.
func WithCompression(bf BinFormat) Option {
	return func(op *writeOptions) {
		op.binFormat = bf
		if bf != BinGZIP && bf != BinUncompressed {
			op.binFormat = BinGZIP
		}
	}
}

// WithHalfPrecision stores the variables as float16 instead of float64. It's lossy, but 4 times smaller,
// and it's used to distribute models for inference. Values are converted back to float64 when read.
func WithHalfPrecision() Option {
	return func(op *writeOptions) {
		op.halfPrecision = true
	}
}
