// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorSize(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want int
	}{
		{"gray packed", NewDescriptor(640, 480, Gray8), 640 * 480},
		{"gray padded", Descriptor{Width: 10, Height: 3, Stride: 16, Format: Gray8}, 48},
		{"nv12", NewDescriptor(4, 4, NV12), 16 + 8},
		{"nv12 odd height", NewDescriptor(4, 3, NV12), 12 + 8},
		{"uyvy", NewDescriptor(4, 2, UYVY), 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.d.Validate())
			assert.Equal(t, tt.want, tt.d.Size())
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	bad := []Descriptor{
		{},
		{Width: 4, Height: 0, Format: Gray8},
		{Width: 4, Height: 4, Stride: 3, Format: Gray8},
		{Width: 3, Height: 4, Format: NV12},
		{Width: 4, Height: 4, Stride: 6, Format: UYVY},
		{Width: 4, Height: 4, Format: Format(42)},
	}
	for _, d := range bad {
		assert.ErrorIs(t, d.Validate(), ErrInvalidDescriptor, "%+v", d)
	}
}

func TestPlanes(t *testing.T) {
	d := Descriptor{Width: 4, Height: 2, Stride: 8, Format: NV12}
	data := make([]byte, d.Size())
	data[d.RowStride()*d.Height+1] = 77

	luma := d.Luma(data)
	assert.Equal(t, 4, luma.Cols)
	assert.Equal(t, 1, luma.BytesPerPixel)
	require.NoError(t, luma.Validate())

	uv, ok := d.Chroma(data)
	require.True(t, ok)
	assert.Equal(t, 2, uv.Cols)
	assert.Equal(t, 1, uv.Rows)
	assert.Equal(t, byte(77), uv.Data[1])
	require.NoError(t, uv.Validate())

	_, ok = NewDescriptor(4, 2, Gray8).Chroma(data)
	assert.False(t, ok)

	packed := NewDescriptor(4, 2, UYVY)
	assert.Equal(t, 2, packed.Luma(make([]byte, packed.Size())).BytesPerPixel)
}

func TestFrameValidate(t *testing.T) {
	f := New(NewDescriptor(4, 4, Gray8))
	require.NoError(t, f.Validate())

	f.Weights = make([]float32, 3)
	assert.ErrorIs(t, f.Validate(), ErrShortBuffer)

	f.WithWeights()
	require.NoError(t, f.Validate())

	f.Data = f.Data[:10]
	assert.ErrorIs(t, f.Validate(), ErrShortBuffer)
}

func TestCloneAndCopy(t *testing.T) {
	src := New(NewDescriptor(2, 2, Gray8))
	copy(src.Data, []byte{1, 2, 3, 4})
	src.Seq = 9

	c := src.Clone()
	c.Data[0] = 100
	assert.Equal(t, byte(1), src.Data[0])
	assert.Equal(t, uint64(9), c.Seq)

	dst := New(src.Descriptor).WithWeights()
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, src.Data, dst.Data)
	assert.Equal(t, []float32{1, 1, 1, 1}, dst.Weights)

	other := New(NewDescriptor(4, 1, Gray8))
	assert.ErrorIs(t, other.CopyFrom(src), ErrGeometryMismatch)
}

func TestCheckPair(t *testing.T) {
	a := New(NewDescriptor(4, 2, UYVY))
	b := New(NewDescriptor(4, 2, UYVY))
	require.NoError(t, CheckPair(a, b))

	c := New(NewDescriptor(4, 2, Gray8))
	assert.ErrorIs(t, CheckPair(a, c), ErrGeometryMismatch)
	assert.ErrorIs(t, CheckPair(a, nil), ErrInvalidDescriptor)
}

func TestFormatText(t *testing.T) {
	for _, f := range []Format{Gray8, NV12, UYVY} {
		text, err := f.MarshalText()
		require.NoError(t, err)
		var back Format
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, f, back)
	}

	got, err := ParseFormat("NV12")
	require.NoError(t, err)
	assert.Equal(t, NV12, got)
	assert.Equal(t, "NV12", got.CapsName())

	_, err = ParseFormat("rgba")
	assert.Error(t, err)
	assert.Equal(t, "Format(9)", Format(9).String())
}

func TestDescriptorWordAligned(t *testing.T) {
	assert.True(t, NewDescriptor(16, 2, Gray8).WordAligned())
	assert.True(t, NewDescriptor(2, 2, UYVY).WordAligned())
	assert.False(t, NewDescriptor(15, 2, Gray8).WordAligned())
	assert.True(t, Descriptor{Width: 15, Height: 2, Stride: 16, Format: Gray8}.WordAligned())
	assert.False(t, NewDescriptor(6, 2, NV12).WordAligned())
}
