// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"fmt"
	"strings"
)

// Format is the pixel layout of a frame.
type Format uint32

const (
	// Gray8 is a single 8-bit luma plane.
	Gray8 Format = iota + 1

	// NV12 is an 8-bit luma plane followed by a half-resolution plane of
	// interleaved U,V pairs. Both planes share the row stride.
	NV12

	// UYVY is packed 4:2:2: two bytes per pixel, chroma in even bytes
	// alternating U and V by column, luma in odd bytes.
	UYVY
)

var formatNames = map[Format]string{
	Gray8: "gray8",
	NV12:  "nv12",
	UYVY:  "uyvy",
}

// String returns the lower-case format name used in configuration files.
func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

// CapsName returns the GStreamer raw video format name.
func (f Format) CapsName() string {
	switch f {
	case Gray8:
		return "GRAY8"
	case NV12:
		return "NV12"
	case UYVY:
		return "UYVY"
	}
	return ""
}

// BytesPerPixel returns the byte width of one pixel in the first plane.
func (f Format) BytesPerPixel() int {
	if f == UYVY {
		return 2
	}
	return 1
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

// ParseFormat parses a format name. Matching is case-insensitive and also
// accepts GStreamer caps names.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("frame: unknown format %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("frame: unknown format %d", uint32(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	v, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
