// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host implements the compute device on the CPU.
//
// Commands run in submission order on one goroutine; the warp kernel itself
// fans out over row bands on a worker pool. The device is the fallback when
// no GPU adapter is available and the reference the GPU kernel is checked
// against.
package host
