// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package camera

import "fmt"

// Pinhole is an ideal, distortion-free target view. The warp kernel
// unprojects every output pixel through a Pinhole and projects the ray
// through the source Model to find where to sample.
type Pinhole struct {
	Intrinsics Intrinsics
	Cols, Rows int
}

// NewPinhole validates the intrinsics and returns a target view.
func NewPinhole(in Intrinsics, cols, rows int) (Pinhole, error) {
	if err := in.validate(); err != nil {
		return Pinhole{}, err
	}
	if cols <= 0 || rows <= 0 {
		return Pinhole{}, fmt.Errorf("%w: target bounds %dx%d", ErrInvalidModel, cols, rows)
	}
	return Pinhole{Intrinsics: in, Cols: cols, Rows: rows}, nil
}

// PinholeFor returns a target view sharing the model's intrinsics, with the
// focal length multiplied by zoom. A zoom below one widens the view.
func PinholeFor(m Model, zoom float32) Pinhole {
	in := m.Intrinsics()
	if zoom > 0 {
		in.Focal = in.Focal.Mul(zoom)
	}
	return Pinhole{Intrinsics: in, Cols: m.cols, Rows: m.rows}
}

// Unproject maps a target pixel to a ray on the z=1 plane.
func (p Pinhole) Unproject(px Vec2) Vec3 {
	n := p.Intrinsics.Normalize(px)
	return Vec3{X: n.X, Y: n.Y, Z: 1}
}

// Scaled returns the view resized to cols x rows.
func (p Pinhole) Scaled(cols, rows int) Pinhole {
	if cols == p.Cols && rows == p.Rows {
		return p
	}
	sx := float32(cols) / float32(p.Cols)
	sy := float32(rows) / float32(p.Rows)
	return Pinhole{Intrinsics: p.Intrinsics.Scaled(sx, sy), Cols: cols, Rows: rows}
}

// SourceCoord returns the source pixel that the target pixel px samples.
// It reports false when the ray falls outside the source model's valid cone.
func SourceCoord(src Model, dst Pinhole, px Vec2) (Vec2, bool) {
	return src.Project(dst.Unproject(px))
}
