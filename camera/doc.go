// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package camera implements the wide-angle camera models used by the warp
// kernel: Double Sphere and Extended Unified.
//
// A [Model] maps between source pixel coordinates and camera-space rays:
//
//	ray := m.Unproject(camera.V2(640, 360)) // (x, y, 1)
//	px, ok := m.Project(ray)                // ok is false outside the valid cone
//
// The distortion variant is a closed sum type chosen when the model is
// constructed, so both variants live in one binary and are dispatched through
// a single [Model.Kappa] call. Models are immutable and safe for concurrent
// use by any number of goroutines.
//
// All math is float32 so that host evaluation reproduces the device kernel's
// precision bit-for-bit as closely as the platform allows.
package camera
