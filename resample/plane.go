// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resample

import (
	"errors"
	"fmt"
)

// ErrPlaneTooSmall is returned when a plane's backing slice cannot hold its
// declared geometry.
var ErrPlaneTooSmall = errors.New("resample: plane data too small")

// Plane is a read-only view of one 8-bit image plane.
// BytesPerPixel is 1 for luma and 2 for interleaved chroma.
type Plane struct {
	Cols, Rows    int
	Stride        int
	BytesPerPixel int
	Data          []byte
}

// GrayPlane returns a single-channel view over data.
func GrayPlane(data []byte, cols, rows, stride int) Plane {
	return Plane{Cols: cols, Rows: rows, Stride: stride, BytesPerPixel: 1, Data: data}
}

// InterleavedPlane returns a two-bytes-per-pixel view over data.
func InterleavedPlane(data []byte, cols, rows, stride int) Plane {
	return Plane{Cols: cols, Rows: rows, Stride: stride, BytesPerPixel: 2, Data: data}
}

// Validate reports whether the backing slice covers every row.
func (p Plane) Validate() error {
	if p.Cols <= 0 || p.Rows <= 0 {
		return fmt.Errorf("resample: empty plane %dx%d", p.Cols, p.Rows)
	}
	bpp := p.BytesPerPixel
	if bpp == 0 {
		bpp = 1
	}
	if p.Stride < p.Cols*bpp {
		return fmt.Errorf("resample: stride %d below row size %d", p.Stride, p.Cols*bpp)
	}
	need := (p.Rows-1)*p.Stride + p.Cols*bpp
	if len(p.Data) < need {
		return fmt.Errorf("%w: have %d, need %d", ErrPlaneTooSmall, len(p.Data), need)
	}
	return nil
}

// byteAt returns channel c of pixel (x, y).
func (p Plane) byteAt(x, y, c int) float32 {
	return float32(p.Data[y*p.Stride+x*p.BytesPerPixel+c])
}

// WeightPlane is a per-pixel confidence plane with the same geometry as the
// image plane it accompanies. Rows are tightly packed. A WeightPlane with
// nil Data behaves as a uniform weight of one.
type WeightPlane struct {
	Cols, Rows int
	Data       []float32
}

// NewWeightPlane returns a plane filled with value.
func NewWeightPlane(cols, rows int, value float32) WeightPlane {
	data := make([]float32, cols*rows)
	for i := range data {
		data[i] = value
	}
	return WeightPlane{Cols: cols, Rows: rows, Data: data}
}

// Uniform reports whether the plane has no data and samples as one.
func (w WeightPlane) Uniform() bool {
	return w.Data == nil
}

func (w WeightPlane) at(x, y int) float32 {
	return w.Data[y*w.Cols+x]
}
