// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gstwarp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/fisheye/frame"
)

func TestDescriptorPadsRows(t *testing.T) {
	tests := []struct {
		format        frame.Format
		width, height int
		stride, size  int
	}{
		{frame.Gray8, 10, 4, 12, 48},
		{frame.Gray8, 16, 4, 16, 64},
		{frame.NV12, 6, 4, 8, 8 * 6},
		{frame.UYVY, 6, 2, 12, 24},
	}
	for _, tt := range tests {
		d, err := Descriptor(tt.format, tt.width, tt.height)
		require.NoError(t, err, "%v %dx%d", tt.format, tt.width, tt.height)
		assert.Equal(t, tt.stride, d.RowStride(), "%v %dx%d", tt.format, tt.width, tt.height)
		assert.Equal(t, tt.size, d.Size(), "%v %dx%d", tt.format, tt.width, tt.height)
	}
}

func TestDescriptorRejects(t *testing.T) {
	_, err := Descriptor(frame.NV12, 8, 5)
	assert.ErrorIs(t, err, frame.ErrInvalidDescriptor)

	_, err = Descriptor(frame.UYVY, 7, 2)
	assert.ErrorIs(t, err, frame.ErrInvalidDescriptor)

	_, err = Descriptor(frame.Gray8, 0, 2)
	assert.ErrorIs(t, err, frame.ErrInvalidDescriptor)
}

func TestCaps(t *testing.T) {
	d, err := Descriptor(frame.NV12, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, "video/x-raw,format=NV12,width=640,height=480,framerate=30/1", Caps(d, 30))
	assert.Equal(t, "video/x-raw,format=NV12,width=640,height=480", Caps(d, 0))
}
