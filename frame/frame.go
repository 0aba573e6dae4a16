// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"errors"
	"fmt"

	"github.com/gogpu/fisheye/resample"
)

// Frame errors.
var (
	// ErrInvalidDescriptor is returned for descriptors with non-positive
	// dimensions, a short stride or an unknown format.
	ErrInvalidDescriptor = errors.New("frame: invalid descriptor")

	// ErrShortBuffer is returned when frame data is smaller than its
	// descriptor requires.
	ErrShortBuffer = errors.New("frame: buffer too small")

	// ErrGeometryMismatch is returned when two frames that must share a
	// descriptor do not.
	ErrGeometryMismatch = errors.New("frame: geometry mismatch")
)

// Descriptor describes the geometry of a frame.
//
// The GPU backend moves rows as 32-bit words and rejects descriptors whose
// row stride is not a multiple of 4 (see WordAligned). NewDescriptor packs
// rows tightly, so odd Gray8 widths need an explicit padded Stride there.
type Descriptor struct {
	Width  int
	Height int
	// Stride is the byte distance between rows. Zero means tightly packed.
	Stride int
	Format Format
}

// NewDescriptor returns a tightly packed descriptor.
func NewDescriptor(width, height int, format Format) Descriptor {
	return Descriptor{Width: width, Height: height, Stride: width * format.BytesPerPixel(), Format: format}
}

// RowStride returns Stride, or the packed row size when Stride is zero.
func (d Descriptor) RowStride() int {
	if d.Stride == 0 {
		return d.Width * d.Format.BytesPerPixel()
	}
	return d.Stride
}

// WordAligned reports whether the row stride is a multiple of 4 bytes.
func (d Descriptor) WordAligned() bool {
	return d.RowStride()%4 == 0
}

// ChromaRows returns the number of rows in the NV12 chroma plane.
func (d Descriptor) ChromaRows() int {
	if d.Format != NV12 {
		return 0
	}
	return (d.Height + 1) / 2
}

// Size returns the number of bytes a frame with this descriptor occupies.
func (d Descriptor) Size() int {
	return d.RowStride() * (d.Height + d.ChromaRows())
}

// Pixels returns Width*Height, the length of a weight plane.
func (d Descriptor) Pixels() int {
	return d.Width * d.Height
}

// Validate checks the descriptor for consistency.
func (d Descriptor) Validate() error {
	if !d.Format.Valid() {
		return fmt.Errorf("%w: format %v", ErrInvalidDescriptor, d.Format)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidDescriptor, d.Width, d.Height)
	}
	if d.Format != Gray8 && d.Width%2 != 0 {
		return fmt.Errorf("%w: %v width %d must be even", ErrInvalidDescriptor, d.Format, d.Width)
	}
	if row := d.Width * d.Format.BytesPerPixel(); d.RowStride() < row {
		return fmt.Errorf("%w: stride %d below row size %d", ErrInvalidDescriptor, d.RowStride(), row)
	}
	return nil
}

// String returns a compact form such as "1280x720/nv12+1280".
func (d Descriptor) String() string {
	return fmt.Sprintf("%dx%d/%v+%d", d.Width, d.Height, d.Format, d.RowStride())
}

// Luma returns the first plane of data as a sampler view. For UYVY the
// view is the interleaved plane.
func (d Descriptor) Luma(data []byte) resample.Plane {
	if d.Format == UYVY {
		return resample.InterleavedPlane(data, d.Width, d.Height, d.RowStride())
	}
	return resample.GrayPlane(data, d.Width, d.Height, d.RowStride())
}

// Chroma returns the NV12 UV plane of data. ok is false for other formats.
func (d Descriptor) Chroma(data []byte) (p resample.Plane, ok bool) {
	if d.Format != NV12 {
		return resample.Plane{}, false
	}
	off := d.RowStride() * d.Height
	return resample.InterleavedPlane(data[off:], d.Width/2, d.ChromaRows(), d.RowStride()), true
}

// Frame is one video frame.
type Frame struct {
	Descriptor
	Data []byte

	// Weights is an optional per-pixel weight plane, Width*Height values.
	// On input it scales sample confidence; on output it receives the
	// interpolated weight. Nil on input means uniform weight one.
	Weights []float32

	Seq     uint64
	TraceID string
}

// New allocates a zeroed frame.
func New(d Descriptor) *Frame {
	return &Frame{Descriptor: d, Data: make([]byte, d.Size())}
}

// WithWeights allocates an output weight plane if the frame has none.
func (f *Frame) WithWeights() *Frame {
	if len(f.Weights) != f.Pixels() {
		f.Weights = make([]float32, f.Pixels())
	}
	return f
}

// Validate checks the descriptor and buffer sizes.
func (f *Frame) Validate() error {
	if err := f.Descriptor.Validate(); err != nil {
		return err
	}
	if len(f.Data) < f.Size() {
		return fmt.Errorf("%w: have %d, need %d for %v", ErrShortBuffer, len(f.Data), f.Size(), f.Descriptor)
	}
	if f.Weights != nil && len(f.Weights) != f.Pixels() {
		return fmt.Errorf("%w: weight plane has %d values, need %d", ErrShortBuffer, len(f.Weights), f.Pixels())
	}
	return nil
}

// WeightPlane returns the sampler view of the weight plane.
func (f *Frame) WeightPlane() resample.WeightPlane {
	return resample.WeightPlane{Cols: f.Width, Rows: f.Height, Data: f.Weights}
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	if f.Weights != nil {
		c.Weights = append([]float32(nil), f.Weights...)
	}
	return &c
}

// CopyFrom copies pixel data and weights from src. The descriptors must
// match. Output weights absent on src are set to one.
func (f *Frame) CopyFrom(src *Frame) error {
	if f.Descriptor != src.Descriptor {
		return fmt.Errorf("%w: %v vs %v", ErrGeometryMismatch, f.Descriptor, src.Descriptor)
	}
	copy(f.Data, src.Data)
	if f.Weights != nil {
		if src.Weights != nil {
			copy(f.Weights, src.Weights)
		} else {
			for i := range f.Weights {
				f.Weights[i] = 1
			}
		}
	}
	return nil
}

// CheckPair verifies that in and out are valid and share geometry.
func CheckPair(in, out *Frame) error {
	if in == nil || out == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidDescriptor)
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if in.Descriptor != out.Descriptor {
		return fmt.Errorf("%w: in %v, out %v", ErrGeometryMismatch, in.Descriptor, out.Descriptor)
	}
	return nil
}
