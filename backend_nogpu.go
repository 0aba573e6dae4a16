// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nogpu

package fisheye

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fisheye/internal/pipeline"
)

func openGPU(*slog.Logger) (pipeline.Device, error) {
	return nil, fmt.Errorf("%w: built with nogpu", ErrDeviceUnavailable)
}

func openProvided(gpucontext.DeviceProvider, *slog.Logger) (pipeline.Device, error) {
	return nil, fmt.Errorf("%w: built with nogpu", ErrDeviceUnavailable)
}
