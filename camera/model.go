// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package camera

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// KappaEpsilon is the smallest distortion denominator accepted by Project.
// Rays whose kappa falls below it are reported as not visible instead of
// producing an infinite or sign-flipped pixel coordinate.
const KappaEpsilon float32 = 1e-6

// Model errors.
var (
	// ErrInvalidModel is returned when model parameters are out of range.
	ErrInvalidModel = errors.New("camera: invalid model parameters")

	// ErrNilDistortion is returned when a model is created without a variant.
	ErrNilDistortion = errors.New("camera: distortion variant is nil")
)

// Kind identifies a distortion variant. The numeric values are shared with
// the device kernel prelude.
type Kind uint32

const (
	// KindDoubleSphere selects the Double Sphere model.
	KindDoubleSphere Kind = 1
	// KindExtendedUnified selects the Extended Unified model.
	KindExtendedUnified Kind = 2
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindDoubleSphere:
		return "DoubleSphere"
	case KindExtendedUnified:
		return "ExtendedUnified"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Distortion is the closed set of wide-angle distortion variants.
// The unexported methods seal the interface to this package.
type Distortion interface {
	// Kind reports the variant tag.
	Kind() Kind

	// Params returns the two variant parameters in kernel order:
	// (xi, alpha) for Double Sphere and (alpha, beta) for Extended Unified.
	Params() [2]float32

	kappa(r Vec3) float32
	lift(m Vec2) (Vec3, bool)
	validate() error
}

// DoubleSphere is the Double Sphere projection model (Usenko et al.).
type DoubleSphere struct {
	Xi    float32
	Alpha float32
}

// Kind implements Distortion.
func (DoubleSphere) Kind() Kind { return KindDoubleSphere }

// Params implements Distortion.
func (d DoubleSphere) Params() [2]float32 { return [2]float32{d.Xi, d.Alpha} }

func (d DoubleSphere) kappa(r Vec3) float32 {
	d1 := r.Length()
	shifted := r
	shifted.Z += d.Xi * d1
	d2 := shifted.Length()
	oneMinus := 1 - d.Alpha
	return d.Alpha*d2 + oneMinus*d.Xi*d1 + oneMinus*r.Z
}

func (d DoubleSphere) lift(m Vec2) (Vec3, bool) {
	r2 := m.X*m.X + m.Y*m.Y
	if d.Alpha > 0.5 && r2 > 1/(2*d.Alpha-1) {
		return Vec3{}, false
	}
	mz := (1 - d.Alpha*d.Alpha*r2) / (d.Alpha*math32.Sqrt(1-(2*d.Alpha-1)*r2) + 1 - d.Alpha)
	disc := mz*mz + (1-d.Xi*d.Xi)*r2
	if disc < 0 {
		return Vec3{}, false
	}
	s := (mz*d.Xi + math32.Sqrt(disc)) / (mz*mz + r2)
	return Vec3{X: s * m.X, Y: s * m.Y, Z: s*mz - d.Xi}, true
}

func (d DoubleSphere) validate() error {
	if !finite(d.Xi) || !finite(d.Alpha) {
		return fmt.Errorf("%w: double sphere parameters must be finite", ErrInvalidModel)
	}
	if d.Alpha < 0 || d.Alpha > 1 {
		return fmt.Errorf("%w: alpha=%g outside [0,1]", ErrInvalidModel, d.Alpha)
	}
	return nil
}

// ExtendedUnified is the Extended Unified Camera Model (Khomutenko et al.).
type ExtendedUnified struct {
	Alpha float32
	Beta  float32
}

// Kind implements Distortion.
func (ExtendedUnified) Kind() Kind { return KindExtendedUnified }

// Params implements Distortion.
func (e ExtendedUnified) Params() [2]float32 { return [2]float32{e.Alpha, e.Beta} }

func (e ExtendedUnified) kappa(r Vec3) float32 {
	sb := math32.Sqrt(e.Beta)
	scaled := Vec3{X: r.X * sb, Y: r.Y * sb, Z: r.Z}
	return e.Alpha*scaled.Length() + (1-e.Alpha)*r.Z
}

func (e ExtendedUnified) lift(m Vec2) (Vec3, bool) {
	r2 := m.X*m.X + m.Y*m.Y
	if e.Alpha > 0.5 && r2 > 1/(e.Beta*(2*e.Alpha-1)) {
		return Vec3{}, false
	}
	mz := (1 - e.Beta*e.Alpha*e.Alpha*r2) / (e.Alpha*math32.Sqrt(1-(2*e.Alpha-1)*e.Beta*r2) + 1 - e.Alpha)
	return Vec3{X: m.X, Y: m.Y, Z: mz}, true
}

func (e ExtendedUnified) validate() error {
	if !finite(e.Alpha) || !finite(e.Beta) {
		return fmt.Errorf("%w: extended unified parameters must be finite", ErrInvalidModel)
	}
	if e.Alpha < 0 || e.Alpha > 1 {
		return fmt.Errorf("%w: alpha=%g outside [0,1]", ErrInvalidModel, e.Alpha)
	}
	if e.Beta <= 0 {
		return fmt.Errorf("%w: beta=%g must be positive", ErrInvalidModel, e.Beta)
	}
	return nil
}

// Intrinsics holds the focal length (fu, fv) and optical center (u0, v0)
// in pixels.
type Intrinsics struct {
	Focal  Vec2
	Center Vec2
}

// Normalize maps a pixel to the normalized image plane: (p - center) / focal.
func (in Intrinsics) Normalize(p Vec2) Vec2 {
	return p.Sub(in.Center).DivVec(in.Focal)
}

// Denormalize is the inverse of Normalize.
func (in Intrinsics) Denormalize(m Vec2) Vec2 {
	return in.Center.Add(in.Focal.MulVec(m))
}

// Scaled returns intrinsics for an image resampled by (sx, sy).
// The pixel-center convention is preserved.
func (in Intrinsics) Scaled(sx, sy float32) Intrinsics {
	return Intrinsics{
		Focal:  Vec2{X: in.Focal.X * sx, Y: in.Focal.Y * sy},
		Center: Vec2{X: (in.Center.X+0.5)*sx - 0.5, Y: (in.Center.Y+0.5)*sy - 0.5},
	}
}

func (in Intrinsics) validate() error {
	if !finite(in.Focal.X) || !finite(in.Focal.Y) || !finite(in.Center.X) || !finite(in.Center.Y) {
		return fmt.Errorf("%w: intrinsics must be finite", ErrInvalidModel)
	}
	if in.Focal.X == 0 || in.Focal.Y == 0 {
		return fmt.Errorf("%w: focal length must be non-zero", ErrInvalidModel)
	}
	return nil
}

// Model is a calibrated wide-angle camera: a distortion variant, its
// intrinsics and the source image bounds. The zero value is not usable;
// create models with NewModel.
type Model struct {
	distortion Distortion
	intrinsics Intrinsics
	cols, rows int
}

// NewModel validates the parameters and returns an immutable model.
func NewModel(d Distortion, in Intrinsics, cols, rows int) (Model, error) {
	m := Model{distortion: d, intrinsics: in, cols: cols, rows: rows}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate checks every parameter. The zero Model is invalid.
func (m Model) Validate() error {
	if m.distortion == nil {
		return ErrNilDistortion
	}
	if err := m.distortion.validate(); err != nil {
		return err
	}
	if err := m.intrinsics.validate(); err != nil {
		return err
	}
	if m.cols <= 0 || m.rows <= 0 {
		return fmt.Errorf("%w: bounds %dx%d", ErrInvalidModel, m.cols, m.rows)
	}
	return nil
}

// Distortion returns the model's distortion variant.
func (m Model) Distortion() Distortion { return m.distortion }

// Intrinsics returns the focal length and optical center.
func (m Model) Intrinsics() Intrinsics { return m.intrinsics }

// Bounds returns the source image size the model was calibrated for.
func (m Model) Bounds() (cols, rows int) { return m.cols, m.rows }

// Unproject maps a pixel to a ray on the normalized plane z=1 using the
// model's intrinsics only: m = (p - center) / focal, ray = (m.x, m.y, 1).
// It is defined for every finite pixel coordinate.
func (m Model) Unproject(p Vec2) Vec3 {
	n := m.intrinsics.Normalize(p)
	return Vec3{X: n.X, Y: n.Y, Z: 1}
}

// Lift is the exact inverse of Project. The returned ray is scaled to z=1.
// It reports false for pixels outside the model's valid image region or
// whose ray points behind the camera.
func (m Model) Lift(p Vec2) (Vec3, bool) {
	r, ok := m.distortion.lift(m.intrinsics.Normalize(p))
	if !ok || !(r.Z > 0) {
		return Vec3{}, false
	}
	return Vec3{X: r.X / r.Z, Y: r.Y / r.Z, Z: 1}, true
}

// Kappa evaluates the distortion denominator for a camera-space ray.
func (m Model) Kappa(r Vec3) float32 {
	return m.distortion.kappa(r)
}

// Project maps a camera-space ray to a source pixel:
// center + focal * ray.xy / kappa(ray).
//
// Rays whose kappa is below KappaEpsilon (or NaN) are outside the valid
// field of view and report false; the returned coordinate is then zero.
func (m Model) Project(r Vec3) (Vec2, bool) {
	k := m.distortion.kappa(r)
	if !(k >= KappaEpsilon) {
		return Vec2{}, false
	}
	p := m.intrinsics.Denormalize(r.XY().Mul(1 / k))
	if !finite(p.X) || !finite(p.Y) {
		return Vec2{}, false
	}
	return p, true
}

// Scaled returns the same lens calibrated for a source image of cols x rows.
func (m Model) Scaled(cols, rows int) Model {
	if cols == m.cols && rows == m.rows {
		return m
	}
	sx := float32(cols) / float32(m.cols)
	sy := float32(rows) / float32(m.rows)
	return Model{
		distortion: m.distortion,
		intrinsics: m.intrinsics.Scaled(sx, sy),
		cols:       cols,
		rows:       rows,
	}
}

// String returns a compact description of the model.
func (m Model) String() string {
	if m.distortion == nil {
		return "Model(nil)"
	}
	p := m.distortion.Params()
	return fmt.Sprintf("%s(%g,%g) f=(%g,%g) c=(%g,%g) %dx%d",
		m.distortion.Kind(), p[0], p[1],
		m.intrinsics.Focal.X, m.intrinsics.Focal.Y,
		m.intrinsics.Center.X, m.intrinsics.Center.Y,
		m.cols, m.rows)
}
