// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package fisheye

import (
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fisheye/internal/gpu"
	"github.com/gogpu/fisheye/internal/pipeline"
)

func openGPU(log *slog.Logger) (pipeline.Device, error) {
	d, err := gpu.Open(gpu.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func openProvided(p gpucontext.DeviceProvider, log *slog.Logger) (pipeline.Device, error) {
	d, err := gpu.FromProvider(p, gpu.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return d, nil
}
