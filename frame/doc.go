// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package frame defines the video frame types exchanged with the warp filter.
//
// A [Frame] is a contiguous byte buffer described by a [Descriptor]: width,
// height, row stride in bytes and pixel [Format]. Input and output frames of
// one call always share a descriptor. The optional weight plane travels with
// the frame as one float32 per pixel.
package frame
