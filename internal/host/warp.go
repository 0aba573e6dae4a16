// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"github.com/gogpu/fisheye/camera"
	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/parallel"
	"github.com/gogpu/fisheye/resample"
)

// neutralChroma is written where the output ray leaves the lens' field of
// view. Luma and weight are zero there.
const neutralChroma = 128

// warpJob is one kernel invocation over a whole frame.
type warpJob struct {
	model   camera.Model
	target  camera.Pinhole
	sampler resample.Sampler
	desc    frame.Descriptor
	src     []byte
	dst     []byte
	weights resample.WeightPlane
	out     []float32 // may be nil
}

func (j *warpJob) run(pool *parallel.Pool) {
	switch j.desc.Format {
	case frame.UYVY:
		pool.Rows(j.desc.Height, j.packedRows)
	case frame.NV12:
		pool.Rows(j.desc.Height, j.lumaRows)
		pool.Rows(j.desc.ChromaRows(), j.chromaRows)
	default:
		pool.Rows(j.desc.Height, j.lumaRows)
	}
}

// source maps an output pixel to the source pixel it samples. With border
// checking on, coordinates outside the source image are not visible.
func (j *warpJob) source(x, y float32) (camera.Vec2, bool) {
	s, ok := camera.SourceCoord(j.model, j.target, camera.V2(x, y))
	if !ok || !j.sampler.BorderCheck {
		return s, ok
	}
	maxX, maxY := float32(j.desc.Width-1), float32(j.desc.Height-1)
	if !(s.X >= 0 && s.X <= maxX && s.Y >= 0 && s.Y <= maxY) {
		return camera.Vec2{}, false
	}
	return s, true
}

func (j *warpJob) setWeight(x, y int, w float32) {
	if j.out != nil {
		j.out[y*j.desc.Width+x] = w
	}
}

func (j *warpJob) lumaRows(lo, hi int) {
	stride := j.desc.RowStride()
	plane := j.desc.Luma(j.src)
	for y := lo; y < hi; y++ {
		row := j.dst[y*stride : (y+1)*stride]
		for x := 0; x < j.desc.Width; x++ {
			s, ok := j.source(float32(x), float32(y))
			if !ok {
				row[x] = 0
				j.setWeight(x, y, 0)
				continue
			}
			smp := j.sampler.SampleGray(plane, j.weights, s)
			row[x] = resample.Quantize(smp.Intensity)
			j.setWeight(x, y, smp.Weight)
		}
		clear(row[j.desc.Width:])
	}
}

func (j *warpJob) packedRows(lo, hi int) {
	stride := j.desc.RowStride()
	plane := j.desc.Luma(j.src)
	for y := lo; y < hi; y++ {
		row := j.dst[y*stride : (y+1)*stride]
		for x := 0; x < j.desc.Width; x++ {
			s, ok := j.source(float32(x), float32(y))
			if !ok {
				row[2*x] = neutralChroma
				row[2*x+1] = 0
				j.setWeight(x, y, 0)
				continue
			}
			smp := j.sampler.SampleInterleaved(plane, j.weights, s)
			chroma := smp.U
			if x&1 != 0 {
				chroma = smp.V
			}
			row[2*x] = resample.Quantize(chroma)
			row[2*x+1] = resample.Quantize(smp.Intensity)
			j.setWeight(x, y, smp.Weight)
		}
		clear(row[2*j.desc.Width:])
	}
}

func (j *warpJob) chromaRows(lo, hi int) {
	stride := j.desc.RowStride()
	plane, _ := j.desc.Chroma(j.src)
	base := stride * j.desc.Height
	cols := j.desc.Width / 2
	for cy := lo; cy < hi; cy++ {
		row := j.dst[base+cy*stride : base+(cy+1)*stride]
		for cx := 0; cx < cols; cx++ {
			// Chroma texel centers sit between two luma pixels.
			s, ok := j.source(float32(cx)*2+0.5, float32(cy)*2+0.5)
			if !ok {
				row[2*cx] = neutralChroma
				row[2*cx+1] = neutralChroma
				continue
			}
			// The half-texel shift can leave the chroma plane at its
			// edges even when the luma coordinate is inside, so chroma
			// always clamps.
			uv := resample.Sampler{}.SampleUV(plane, s.Sub(camera.V2(0.5, 0.5)).Mul(0.5))
			row[2*cx] = resample.Quantize(uv.U)
			row[2*cx+1] = resample.Quantize(uv.V)
		}
		clear(row[2*cols:])
	}
}
