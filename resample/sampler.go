// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resample

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/fisheye/camera"
)

// Sample is the sampler output. Gray samples leave U and V at zero.
type Sample struct {
	U, V      float32
	Intensity float32
	Weight    float32
}

// Sampler reads planes at fractional coordinates.
//
// By default coordinates are clamped to [0, cols-1] x [0, rows-1] before
// sampling. With BorderCheck set the caller guarantees that coordinates are
// in bounds; this is a contract, not a runtime check.
type Sampler struct {
	BorderCheck bool
}

// footprint is the integer cell and fractional offsets of a coordinate.
type footprint struct {
	x0, y0, x1, y1 int
	a, b           float32
}

func (s Sampler) locate(xy camera.Vec2, cols, rows int) footprint {
	if !s.BorderCheck {
		xy.X = clampf(xy.X, 0, float32(cols-1))
		xy.Y = clampf(xy.Y, 0, float32(rows-1))
	}
	fx := math32.Floor(xy.X)
	fy := math32.Floor(xy.Y)
	x0, y0 := int(fx), int(fy)
	return footprint{
		x0: x0,
		y0: y0,
		x1: min(x0+1, cols-1),
		y1: min(y0+1, rows-1),
		a:  xy.X - fx,
		b:  xy.Y - fy,
	}
}

// blend is the bilinear blend of a 2x2 cell: t0,t1 on the top row and
// b0,b1 on the bottom row, a along x and b along y.
func blend(t0, t1, b0, b1, a, b float32) float32 {
	return a*b*(b1-b0-t1+t0) + b*(b0-t0) + a*(t1-t0) + t0
}

func (f footprint) weight(w WeightPlane) float32 {
	if w.Uniform() {
		return 1
	}
	return blend(w.at(f.x0, f.y0), w.at(f.x1, f.y0), w.at(f.x0, f.y1), w.at(f.x1, f.y1), f.a, f.b)
}

// SampleGray samples a single-channel plane and its weight plane at xy.
func (s Sampler) SampleGray(p Plane, w WeightPlane, xy camera.Vec2) Sample {
	f := s.locate(xy, p.Cols, p.Rows)
	return Sample{
		Intensity: blend(
			p.byteAt(f.x0, f.y0, 0), p.byteAt(f.x1, f.y0, 0),
			p.byteAt(f.x0, f.y1, 0), p.byteAt(f.x1, f.y1, 0),
			f.a, f.b),
		Weight: f.weight(w),
	}
}

// SampleInterleaved samples a packed two-bytes-per-pixel plane whose even
// bytes alternate between U and V by column and whose odd bytes carry
// luma (UYVY order).
//
// The chroma pair is read from the texel at floor(x) and its right
// neighbor (left neighbor on the last column) and blended along y only. When floor(x) is odd the pair is
// stored as (V, U) and is swapped so U always comes first. Luma and weight
// are blended bilinearly.
func (s Sampler) SampleInterleaved(p Plane, w WeightPlane, xy camera.Vec2) Sample {
	f := s.locate(xy, p.Cols, p.Rows)

	// On the last column the partner of the chroma pair is the left
	// neighbor; the swap below still applies.
	cx := f.x0 + 1
	if cx >= p.Cols {
		cx = max(f.x0-1, 0)
	}
	tc0, tc1 := p.byteAt(f.x0, f.y0, 0), p.byteAt(cx, f.y0, 0)
	bc0, bc1 := p.byteAt(f.x0, f.y1, 0), p.byteAt(cx, f.y1, 0)
	u := tc0 + (bc0-tc0)*f.b
	v := tc1 + (bc1-tc1)*f.b
	if f.x0&1 != 0 {
		u, v = v, u
	}

	return Sample{
		U: u,
		V: v,
		Intensity: blend(
			p.byteAt(f.x0, f.y0, 1), p.byteAt(f.x1, f.y0, 1),
			p.byteAt(f.x0, f.y1, 1), p.byteAt(f.x1, f.y1, 1),
			f.a, f.b),
		Weight: f.weight(w),
	}
}

// SampleUV samples a semi-planar chroma plane (NV12 UV) where every texel
// holds a (U, V) pair. Both channels are blended bilinearly.
func (s Sampler) SampleUV(p Plane, xy camera.Vec2) Sample {
	f := s.locate(xy, p.Cols, p.Rows)
	return Sample{
		U: blend(
			p.byteAt(f.x0, f.y0, 0), p.byteAt(f.x1, f.y0, 0),
			p.byteAt(f.x0, f.y1, 0), p.byteAt(f.x1, f.y1, 0),
			f.a, f.b),
		V: blend(
			p.byteAt(f.x0, f.y0, 1), p.byteAt(f.x1, f.y0, 1),
			p.byteAt(f.x0, f.y1, 1), p.byteAt(f.x1, f.y1, 1),
			f.a, f.b),
		Weight: 1,
	}
}

// clampf also maps NaN to lo.
func clampf(v, lo, hi float32) float32 {
	if !(v >= lo) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Quantize rounds a blended value to the nearest byte.
func Quantize(v float32) uint8 {
	v = clampf(v+0.5, 0, 255)
	return uint8(v)
}
