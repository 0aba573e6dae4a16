// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gstwarp runs a fisheye filter inside a GStreamer pipeline.
//
// Frames are pulled from an appsink at the end of a source description,
// warped, and pushed into an appsrc feeding a sink description:
//
//	<source> ! videoconvert ! video/x-raw,format=NV12,... ! appsink
//	appsrc ! videoconvert ! <sink>
//
// # Usage
//
//	f, _ := fisheye.New(cfg)
//	defer f.Close()
//	stats, err := gstwarp.Run(ctx, gstwarp.Config{
//	    Source: "v4l2src device=/dev/video0",
//	    Sink:   "autovideosink",
//	    Format: frame.NV12,
//	    Width:  1280,
//	    Height: 800,
//	}, f)
//
// The package needs the GStreamer development libraries; build with
// -tags nogst to leave it out. Caps helpers compile either way.
package gstwarp
