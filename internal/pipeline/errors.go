// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"errors"
	"fmt"
)

// Error classes. Initialization failures (device, build, allocation,
// geometry) put the filter into bypass; execution failures abort one frame and keep the device.
var (
	// ErrDeviceUnavailable is returned when no compute device or queue can
	// be created.
	ErrDeviceUnavailable = errors.New("fisheye: compute device unavailable")

	// ErrProgramBuild is returned when the kernel source is missing, fails
	// to compile, or lacks the requested entry point.
	ErrProgramBuild = errors.New("fisheye: kernel program build failed")

	// ErrResourceAllocation is returned when a device buffer or program
	// object cannot be created.
	ErrResourceAllocation = errors.New("fisheye: device resource allocation failed")

	// ErrUnsupportedGeometry is returned when a device cannot process
	// frames of a given geometry, such as a row stride the device cannot
	// address. A frame of another geometry may still succeed.
	ErrUnsupportedGeometry = errors.New("fisheye: frame geometry not supported by device")

	// ErrExecution is returned when enqueuing or completing an upload,
	// kernel dispatch or download fails.
	ErrExecution = errors.New("fisheye: frame execution failed")

	// ErrClosed is returned by a scheduler after Close.
	ErrClosed = errors.New("fisheye: scheduler closed")
)

// BuildError carries the compiler log of a failed program build.
type BuildError struct {
	Entry string
	Log   string
	Err   error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("fisheye: build of entry point %q failed", e.Entry)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Log != "" {
		msg += "\n" + e.Log
	}
	return msg
}

// Unwrap returns ErrProgramBuild and the underlying cause.
func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProgramBuild}
	}
	return []error{ErrProgramBuild, e.Err}
}

// Stage names the slot phase an execution error occurred in.
type Stage uint8

const (
	StageRetire Stage = iota
	StageUpload
	StageCompute
	StageDownload
)

func (s Stage) String() string {
	switch s {
	case StageRetire:
		return "retire"
	case StageUpload:
		return "upload"
	case StageCompute:
		return "compute"
	case StageDownload:
		return "download"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// ExecutionError reports a failed frame.
type ExecutionError struct {
	Stage Stage
	Slot  int
	Frame uint64
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("fisheye: frame %d slot %d: %v failed: %v", e.Frame, e.Slot, e.Stage, e.Err)
}

// Unwrap returns ErrExecution and the underlying cause.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

// allocError wraps err as a resource allocation failure.
func allocError(what string, err error) error {
	if errors.Is(err, ErrResourceAllocation) {
		return fmt.Errorf("allocate %s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrResourceAllocation, what, err)
}
