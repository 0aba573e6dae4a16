// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/fisheye/camera"
	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/kernel"
	"github.com/gogpu/fisheye/internal/pipeline"
	"github.com/gogpu/fisheye/resample"
)

func lensModel(t *testing.T, d camera.Distortion, cols, rows int) camera.Model {
	t.Helper()
	m, err := camera.NewModel(d, camera.Intrinsics{
		Focal:  camera.V2(float32(cols)/2, float32(cols)/2),
		Center: camera.V2(float32(cols-1)/2, float32(rows-1)/2),
	}, cols, rows)
	require.NoError(t, err)
	return m
}

func newScheduler(t *testing.T, b kernel.Builder, slots int) *pipeline.Scheduler {
	t.Helper()
	dev := New(WithWorkers(3))
	s, err := pipeline.New(pipeline.Config{Slots: slots, Device: dev, Source: b.Source})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
		assert.NoError(t, dev.Close())
	})
	return s
}

func gradient(d frame.Descriptor) *frame.Frame {
	f := frame.New(d)
	for i := range f.Data {
		f.Data[i] = byte((i*37 + i/d.RowStride()*11) % 251)
	}
	return f
}

// reference evaluates the warp directly through camera and resample.
func reference(b kernel.Builder, in *frame.Frame) (data []byte, weights []float32) {
	d := in.Descriptor
	m := b.Model.Scaled(d.Width, d.Height)
	target := camera.PinholeFor(m, b.Zoom)
	s := resample.Sampler{BorderCheck: b.BorderCheck}
	w := in.WeightPlane()
	data = make([]byte, d.Size())
	weights = make([]float32, d.Pixels())
	stride := d.RowStride()

	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			src, ok := camera.SourceCoord(m, target, camera.V2(float32(x), float32(y)))
			switch d.Format {
			case frame.UYVY:
				if !ok {
					data[y*stride+2*x] = 128
					continue
				}
				smp := s.SampleInterleaved(d.Luma(in.Data), w, src)
				c := smp.U
				if x%2 == 1 {
					c = smp.V
				}
				data[y*stride+2*x] = resample.Quantize(c)
				data[y*stride+2*x+1] = resample.Quantize(smp.Intensity)
				weights[y*d.Width+x] = smp.Weight
			default:
				if !ok {
					continue
				}
				smp := s.SampleGray(d.Luma(in.Data), w, src)
				data[y*stride+x] = resample.Quantize(smp.Intensity)
				weights[y*d.Width+x] = smp.Weight
			}
		}
	}
	if uv, ok := d.Chroma(in.Data); ok {
		base := stride * d.Height
		for cy := 0; cy < d.ChromaRows(); cy++ {
			for cx := 0; cx < d.Width/2; cx++ {
				i := base + cy*stride + 2*cx
				src, ok := camera.SourceCoord(m, target, camera.V2(float32(cx)*2+0.5, float32(cy)*2+0.5))
				if !ok {
					data[i], data[i+1] = 128, 128
					continue
				}
				smp := s.SampleUV(uv, src.Sub(camera.V2(0.5, 0.5)).Mul(0.5))
				data[i] = resample.Quantize(smp.U)
				data[i+1] = resample.Quantize(smp.V)
			}
		}
	}
	return data, weights
}

func TestWarpMatchesReference(t *testing.T) {
	ds := lensModel(t, camera.DoubleSphere{Xi: -0.2, Alpha: 0.6}, 128, 96)
	eu := lensModel(t, camera.ExtendedUnified{Alpha: 0.6, Beta: 1.1}, 128, 96)

	tests := []struct {
		name string
		b    kernel.Builder
		desc frame.Descriptor
	}{
		{"gray ds", kernel.Builder{Model: ds, Zoom: 0.6}, frame.NewDescriptor(64, 48, frame.Gray8)},
		{"gray eu padded", kernel.Builder{Model: eu, Zoom: 1}, frame.Descriptor{Width: 30, Height: 20, Stride: 32, Format: frame.Gray8}},
		{"nv12 ds", kernel.Builder{Model: ds, Zoom: 0.8}, frame.NewDescriptor(32, 24, frame.NV12)},
		{"uyvy eu", kernel.Builder{Model: eu, Zoom: 0.5}, frame.NewDescriptor(32, 16, frame.UYVY)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScheduler(t, tt.b, 2)
			in := gradient(tt.desc)
			out := frame.New(tt.desc).WithWeights()
			require.NoError(t, s.Process(context.Background(), in, out))

			wantData, wantWeights := reference(tt.b, in)
			assert.Equal(t, wantData, out.Data)
			assert.Equal(t, wantWeights, out.Weights)
		})
	}
}

func TestWarpInputWeights(t *testing.T) {
	b := kernel.Builder{Model: lensModel(t, camera.ExtendedUnified{Alpha: 0.5, Beta: 1}, 40, 40), Zoom: 0.7}
	s := newScheduler(t, b, 1)

	d := frame.NewDescriptor(40, 40, frame.Gray8)
	in := gradient(d)
	in.Weights = make([]float32, d.Pixels())
	for i := range in.Weights {
		in.Weights[i] = float32(i%40) / 40
	}
	out := frame.New(d).WithWeights()
	require.NoError(t, s.Process(context.Background(), in, out))

	_, want := reference(b, in)
	assert.Equal(t, want, out.Weights)
}

func TestWarpOutsideFieldOfView(t *testing.T) {
	// Rays beyond |m| ~ 0.48 have negative kappa for xi = -0.9, alpha = 0.
	m := lensModel(t, camera.DoubleSphere{Xi: -0.9, Alpha: 0}, 32, 32)
	s := newScheduler(t, kernel.Builder{Model: m, Zoom: 1}, 1)

	d := frame.NewDescriptor(32, 32, frame.Gray8)
	in := frame.New(d)
	for i := range in.Data {
		in.Data[i] = 200
	}
	out := frame.New(d).WithWeights()
	require.NoError(t, s.Process(context.Background(), in, out))

	assert.Equal(t, byte(0), out.Data[0], "corner is black")
	assert.Equal(t, float32(0), out.Weights[0], "corner has zero weight")
	center := 16*32 + 16
	assert.Equal(t, byte(200), out.Data[center])
	assert.Equal(t, float32(1), out.Weights[center])
}

func TestWarpPipelinedFramesAndResize(t *testing.T) {
	b := kernel.Builder{Model: lensModel(t, camera.DoubleSphere{Xi: 0.1, Alpha: 0.55}, 64, 64), Zoom: 0.9}
	s := newScheduler(t, b, 3)
	ctx := context.Background()

	descs := []frame.Descriptor{
		frame.NewDescriptor(64, 64, frame.Gray8),
		frame.NewDescriptor(32, 16, frame.Gray8),
	}
	type job struct {
		p   *pipeline.Pending
		in  *frame.Frame
		out *frame.Frame
	}
	var jobs []job
	for i := 0; i < 10; i++ {
		d := descs[(i/4)%2]
		in := gradient(d)
		in.Data[i] ^= 0xff
		out := frame.New(d)
		p, err := s.Submit(ctx, in, out)
		require.NoError(t, err)
		jobs = append(jobs, job{p, in, out})
	}
	for i, j := range jobs {
		require.NoError(t, j.p.Wait(ctx))
		want, _ := reference(b, j.in)
		assert.Equal(t, want, j.out.Data, "frame %d", i)
	}
	assert.Equal(t, uint64(2), s.Stats().Reallocations)
}

func TestBuildRejectsBadKernels(t *testing.T) {
	m := lensModel(t, camera.ExtendedUnified{Alpha: 0.5, Beta: 1}, 16, 16)
	d := frame.NewDescriptor(16, 16, frame.Gray8)

	s := newScheduler(t, kernel.Builder{Model: m, Entry: "missing"}, 1)
	err := s.Process(context.Background(), frame.New(d), frame.New(d))
	assert.ErrorIs(t, err, pipeline.ErrProgramBuild)

	bad := filepath.Join(t.TempDir(), "bad.wgsl")
	require.NoError(t, os.WriteFile(bad, []byte("@compute @workgroup_size(1)\nfn warp() { let = ; }\n"), 0o600))
	s = newScheduler(t, kernel.Builder{Model: m, File: bad}, 1)
	err = s.Process(context.Background(), frame.New(d), frame.New(d))
	var be *pipeline.BuildError
	require.ErrorAs(t, err, &be)
	assert.NotEmpty(t, be.Log)
}

func TestDeviceAfterClose(t *testing.T) {
	dev := New(WithWorkers(1))
	buf, err := dev.Allocate("b", 16)
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, err = dev.Upload(buf, make([]byte, 4))
	assert.Error(t, err)
}

func TestAllocateRejectsEmpty(t *testing.T) {
	dev := New(WithWorkers(1))
	defer dev.Close()
	_, err := dev.Allocate("empty", 0)
	assert.ErrorIs(t, err, pipeline.ErrResourceAllocation)
}

func TestFailedDependencySkipsCommand(t *testing.T) {
	dev := New(WithWorkers(1))
	defer dev.Close()
	buf, err := dev.Allocate("b", 4)
	require.NoError(t, err)

	bad, err := dev.enqueue("boom", func() { panic("kernel fault") }, nil)
	require.NoError(t, err)
	dst := []byte{9, 9, 9, 9}
	tok, err := dev.Download(dst, buf, bad)
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorContains(t, bad.Wait(ctx), "kernel fault")
	assert.ErrorContains(t, tok.Wait(ctx), "dependency failed")
	assert.Equal(t, []byte{9, 9, 9, 9}, dst)
}

func TestBandPanicFailsCommand(t *testing.T) {
	dev := New(WithWorkers(2))
	defer dev.Close()

	tok, err := dev.enqueue("dispatch", func() {
		dev.pool.Rows(16, func(lo, _ int) {
			if lo == 0 {
				panic("band fault")
			}
		})
	}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, tok.Wait(context.Background()), "band fault")

	// The command goroutine and the pool keep running.
	buf, err := dev.Allocate("b", 4)
	require.NoError(t, err)
	up, err := dev.Upload(buf, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.NoError(t, up.Wait(context.Background()))
}
