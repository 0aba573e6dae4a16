// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fisheye

import (
	"errors"

	"github.com/gogpu/fisheye/internal/pipeline"
)

// Error classes. Initialization errors (device, build, allocation,
// geometry) put a Filter into bypass; ErrExecution fails a single frame.
var (
	ErrDeviceUnavailable   = pipeline.ErrDeviceUnavailable
	ErrProgramBuild        = pipeline.ErrProgramBuild
	ErrResourceAllocation  = pipeline.ErrResourceAllocation
	ErrUnsupportedGeometry = pipeline.ErrUnsupportedGeometry
	ErrExecution           = pipeline.ErrExecution

	// ErrInvalidConfig is returned by Config.Validate and New.
	ErrInvalidConfig = errors.New("fisheye: invalid config")

	// ErrClosed is returned by ProcessFrame after Close.
	ErrClosed = errors.New("fisheye: filter closed")
)

type (
	// BuildError carries the compiler log of a failed kernel build.
	BuildError = pipeline.BuildError

	// ExecutionError identifies the frame, slot and stage of a failed frame.
	ExecutionError = pipeline.ExecutionError

	// Stage is the slot phase an ExecutionError occurred in.
	Stage = pipeline.Stage
)

// isInitError reports whether err should put the filter into bypass.
func isInitError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrProgramBuild) ||
		errors.Is(err, ErrResourceAllocation) ||
		errors.Is(err, ErrUnsupportedGeometry)
}
