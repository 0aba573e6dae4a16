// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel loads, specializes and compiles the warp compute kernel.
//
// The kernel is WGSL. The built-in source is embedded; a file on disk can
// replace it. Before compilation the camera constants of the current frame
// geometry are prepended as a prelude, so one compiled program serves one
// (device, geometry) generation. Compilation to SPIR-V uses naga.
package kernel
