// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resample implements the weighted bilinear sampler used by the
// warp kernel.
//
// A sample reads an 8-bit source plane and a parallel float32 weight plane
// at a fractional coordinate and returns the blended intensity (and chroma
// pair for interleaved planes) together with the blended weight. The weight
// is never a constant: it is resampled with the same bilinear weights as the
// image, so samples taken near low-confidence regions fade out smoothly.
package resample
