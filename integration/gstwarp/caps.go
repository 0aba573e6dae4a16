// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gstwarp

import (
	"fmt"

	"github.com/gogpu/fisheye/frame"
)

// Descriptor returns the layout GStreamer uses for raw video of the given
// size: every plane row is padded to a multiple of 4 bytes.
func Descriptor(format frame.Format, width, height int) (frame.Descriptor, error) {
	d := frame.NewDescriptor(width, height, format)
	d.Stride = (width*format.BytesPerPixel() + 3) &^ 3
	if err := d.Validate(); err != nil {
		return frame.Descriptor{}, err
	}
	if format == frame.NV12 && height%2 != 0 {
		return frame.Descriptor{}, fmt.Errorf("%w: NV12 height %d is odd", frame.ErrInvalidDescriptor, height)
	}
	return d, nil
}

// Caps returns the raw video caps string for d at fps frames per second.
// A zero fps leaves the frame rate unconstrained.
func Caps(d frame.Descriptor, fps int) string {
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", d.Format.CapsName(), d.Width, d.Height)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	return caps
}
