// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"context"
	"unsafe"

	"github.com/gogpu/fisheye/camera"
	"github.com/gogpu/fisheye/frame"
)

// Token marks the completion of one enqueued device command.
//
// A Token is owned by whoever enqueued the command. Release frees the
// underlying event; a released token must not be waited on.
type Token interface {
	// Wait blocks until the command has completed or ctx is done. A
	// command that failed on the device reports its error here.
	Wait(ctx context.Context) error

	// Done reports completion without blocking.
	Done() bool

	Release()
}

// Buffer is a device memory allocation.
type Buffer interface {
	Size() int
	Release()
}

// Program is a kernel compiled for one frame geometry.
type Program interface {
	Entry() string
	Release()
}

// Source is everything a device needs to build a warp program for one
// frame geometry.
type Source struct {
	// Name identifies the source in logs, usually a file path.
	Name string

	// Code is the complete WGSL module, including the generated constants
	// prelude.
	Code  string
	Entry string

	// Model is the source camera scaled to the frame geometry and Target
	// the output view. Host devices evaluate them directly.
	Model       camera.Model
	Target      camera.Pinhole
	BorderCheck bool
}

// KernelArgs are the per-dispatch kernel arguments.
type KernelArgs struct {
	Src, Dst Buffer

	// Weights is the input weight plane. Nil samples as uniform one.
	Weights Buffer

	// WeightsOut receives the interpolated weight plane. Nil skips it.
	WeightsOut Buffer

	Width, Height, Stride int
	Format                frame.Format
}

// Device is an asynchronous compute device with in-order dependency
// tracking through tokens.
//
// Upload, Dispatch and Download return as soon as the command is enqueued.
// A command starts only after every token in after has completed. The
// returned token completes when the command has. Download writes into dst
// no later than the completion of its token; dst must stay untouched until
// then.
type Device interface {
	Name() string
	Build(src Source, desc frame.Descriptor) (Program, error)
	Allocate(label string, size int) (Buffer, error)
	Upload(dst Buffer, src []byte, after ...Token) (Token, error)
	Dispatch(prog Program, args KernelArgs, after ...Token) (Token, error)
	Download(dst []byte, src Buffer, after ...Token) (Token, error)
	Close() error
}

// FloatBytes returns the little-endian byte view of a weight plane without
// copying.
func FloatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4) //nolint:gosec // float32 plane view
}

// BytesFloat is the inverse of FloatBytes. len(b) must be a multiple of 4
// and b must be 4-byte aligned.
func BytesFloat(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4) //nolint:gosec // float32 plane view
}
