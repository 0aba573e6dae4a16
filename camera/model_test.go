// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package camera

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntrinsics() Intrinsics {
	return Intrinsics{Focal: V2(350, 348), Center: V2(640.5, 511.2)}
}

func newTestModel(t *testing.T, d Distortion) Model {
	t.Helper()
	m, err := NewModel(d, testIntrinsics(), 1280, 1024)
	require.NoError(t, err)
	return m
}

func TestUnprojectNormalizedPlane(t *testing.T) {
	m := newTestModel(t, DoubleSphere{Xi: -0.18, Alpha: 0.59})

	assert.Equal(t, V3(0, 0, 1), m.Unproject(V2(640.5, 511.2)))

	r := m.Unproject(V2(640.5+350, 511.2-348))
	assert.InDelta(t, 1, r.X, 1e-6)
	assert.InDelta(t, -1, r.Y, 1e-6)
	assert.Equal(t, float32(1), r.Z)
}

func TestProjectLiftRoundTrip(t *testing.T) {
	models := map[string]Distortion{
		"double_sphere":    DoubleSphere{Xi: -0.18, Alpha: 0.59},
		"double_sphere_xi": DoubleSphere{Xi: 0.45, Alpha: 0.3},
		"extended_unified": ExtendedUnified{Alpha: 0.63, Beta: 1.04},
		"eucm_low_alpha":   ExtendedUnified{Alpha: 0.2, Beta: 0.8},
	}
	for name, d := range models {
		t.Run(name, func(t *testing.T) {
			m := newTestModel(t, d)
			c := m.Intrinsics().Center
			checked := 0
			for y := float32(0); y < 1024; y += 37 {
				for x := float32(0); x < 1280; x += 41 {
					p := V2(x, y)
					if p.Sub(c).Length() > 500 {
						continue
					}
					ray, ok := m.Lift(p)
					if !ok {
						continue
					}
					assert.Equal(t, float32(1), ray.Z)
					got, ok := m.Project(ray)
					require.True(t, ok, "project(lift(%v)) not visible", p)
					assert.InDelta(t, p.X, got.X, 1e-2, "x at %v", p)
					assert.InDelta(t, p.Y, got.Y, 1e-2, "y at %v", p)
					checked++
				}
			}
			assert.Greater(t, checked, 200)
		})
	}
}

func TestProjectScaleInvariant(t *testing.T) {
	m := newTestModel(t, ExtendedUnified{Alpha: 0.63, Beta: 1.04})
	r := V3(0.4, -0.25, 1)
	a, ok := m.Project(r)
	require.True(t, ok)
	b, ok := m.Project(r.Mul(3.5))
	require.True(t, ok)
	assert.InDelta(t, a.X, b.X, 1e-3)
	assert.InDelta(t, a.Y, b.Y, 1e-3)
}

func TestKappaDegenerateAlpha(t *testing.T) {
	r := V3(0.3, -0.2, 1)
	n := r.Length()

	t.Run("double_sphere_alpha0", func(t *testing.T) {
		m := newTestModel(t, DoubleSphere{Xi: 0.7, Alpha: 0})
		assert.InDelta(t, 0.7*n+r.Z, m.Kappa(r), 1e-6)
	})
	t.Run("double_sphere_alpha1", func(t *testing.T) {
		m := newTestModel(t, DoubleSphere{Xi: 0.7, Alpha: 1})
		shifted := V3(r.X, r.Y, r.Z+0.7*n)
		assert.InDelta(t, shifted.Length(), m.Kappa(r), 1e-6)
	})
	t.Run("extended_unified_alpha0", func(t *testing.T) {
		m := newTestModel(t, ExtendedUnified{Alpha: 0, Beta: 1.3})
		assert.InDelta(t, r.Z, m.Kappa(r), 1e-6)
	})
	t.Run("extended_unified_alpha1", func(t *testing.T) {
		m := newTestModel(t, ExtendedUnified{Alpha: 1, Beta: 1.3})
		want := math32.Sqrt(1.3*(r.X*r.X+r.Y*r.Y) + r.Z*r.Z)
		assert.InDelta(t, want, m.Kappa(r), 1e-6)
	})
}

func TestKappaContinuousInAlpha(t *testing.T) {
	r := V3(-0.6, 0.45, 1)
	for _, alpha := range []float32{0.05, 0.25, 0.5, 0.75, 0.95} {
		lo := newTestModel(t, DoubleSphere{Xi: -0.1, Alpha: alpha - 1e-4})
		hi := newTestModel(t, DoubleSphere{Xi: -0.1, Alpha: alpha + 1e-4})
		assert.InDelta(t, lo.Kappa(r), hi.Kappa(r), 1e-3, "alpha=%v", alpha)

		elo := newTestModel(t, ExtendedUnified{Alpha: alpha - 1e-4, Beta: 1.1})
		ehi := newTestModel(t, ExtendedUnified{Alpha: alpha + 1e-4, Beta: 1.1})
		assert.InDelta(t, elo.Kappa(r), ehi.Kappa(r), 1e-3, "alpha=%v", alpha)
	}
}

func TestProjectRejectsRaysOutsideCone(t *testing.T) {
	m := newTestModel(t, DoubleSphere{Xi: 0.5, Alpha: 0})

	// Antiparallel to the principal axis: kappa = xi - 1 < 0.
	_, ok := m.Project(V3(0, 0, -1))
	assert.False(t, ok)

	// Zero ray: kappa = 0.
	_, ok = m.Project(V3(0, 0, 0))
	assert.False(t, ok)

	nan := math32.NaN()
	_, ok = m.Project(V3(nan, 0, 1))
	assert.False(t, ok)

	// Principal axis is always visible.
	p, ok := m.Project(V3(0, 0, 1))
	require.True(t, ok)
	assert.Equal(t, m.Intrinsics().Center, p)
}

func TestLiftOutsideValidRegion(t *testing.T) {
	// alpha > 0.5 bounds the image region: r^2 <= 1/(2*alpha-1).
	m := newTestModel(t, DoubleSphere{Xi: 0, Alpha: 0.9})
	_, ok := m.Lift(V2(640.5+350*2, 511.2))
	assert.False(t, ok)

	_, ok = m.Lift(V2(640.5+350*0.5, 511.2))
	assert.True(t, ok)
}

func TestNewModelValidation(t *testing.T) {
	tests := []struct {
		name string
		d    Distortion
		in   Intrinsics
		cols int
		rows int
		want error
	}{
		{"nil distortion", nil, testIntrinsics(), 10, 10, ErrNilDistortion},
		{"alpha above one", DoubleSphere{Xi: 0, Alpha: 1.5}, testIntrinsics(), 10, 10, ErrInvalidModel},
		{"negative alpha", ExtendedUnified{Alpha: -0.1, Beta: 1}, testIntrinsics(), 10, 10, ErrInvalidModel},
		{"zero beta", ExtendedUnified{Alpha: 0.5, Beta: 0}, testIntrinsics(), 10, 10, ErrInvalidModel},
		{"nan xi", DoubleSphere{Xi: math32.NaN(), Alpha: 0.5}, testIntrinsics(), 10, 10, ErrInvalidModel},
		{"zero focal", DoubleSphere{Alpha: 0.5}, Intrinsics{Center: V2(1, 1)}, 10, 10, ErrInvalidModel},
		{"empty bounds", DoubleSphere{Alpha: 0.5}, testIntrinsics(), 0, 10, ErrInvalidModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.d, tt.in, tt.cols, tt.rows)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, Model{}.Validate(), ErrNilDistortion)
}

func TestModelScaled(t *testing.T) {
	m := newTestModel(t, DoubleSphere{Xi: -0.18, Alpha: 0.59})
	half := m.Scaled(640, 512)

	cols, rows := half.Bounds()
	assert.Equal(t, 640, cols)
	assert.Equal(t, 512, rows)
	assert.InDelta(t, 175, half.Intrinsics().Focal.X, 1e-4)

	r := V3(0.2, 0.1, 1)
	full, ok := m.Project(r)
	require.True(t, ok)
	scaled, ok := half.Project(r)
	require.True(t, ok)
	assert.InDelta(t, (full.X+0.5)*0.5-0.5, scaled.X, 1e-3)
	assert.InDelta(t, (full.Y+0.5)*0.5-0.5, scaled.Y, 1e-3)

	assert.Equal(t, m, m.Scaled(1280, 1024))
}

func TestPinholeSourceCoord(t *testing.T) {
	m := newTestModel(t, ExtendedUnified{Alpha: 0.63, Beta: 1.04})
	view := PinholeFor(m, 0.5)
	assert.InDelta(t, 175, view.Intrinsics.Focal.X, 1e-4)

	// The optical center maps onto itself.
	p, ok := SourceCoord(m, view, m.Intrinsics().Center)
	require.True(t, ok)
	assert.InDelta(t, m.Intrinsics().Center.X, p.X, 1e-4)
	assert.InDelta(t, m.Intrinsics().Center.Y, p.Y, 1e-4)

	// At unit zoom, undistortion pulls off-center pixels toward the center
	// of the source.
	q, ok := SourceCoord(m, PinholeFor(m, 1), V2(1000, 511.2))
	require.True(t, ok)
	assert.Less(t, q.X, float32(1000))
	assert.Greater(t, q.X, m.Intrinsics().Center.X)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "DoubleSphere", KindDoubleSphere.String())
	assert.Equal(t, "ExtendedUnified", KindExtendedUnified.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
