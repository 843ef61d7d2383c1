// Package grid relates integer pixel extents to CRS coordinates.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingular is returned when inverting a non-invertible transform.
var ErrSingular = errors.New("affine transform is not invertible")

// Affine is a 2D affine transform:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the identity transform.
var Identity = Affine{A: 1, E: 1}

// Scale returns a transform scaling by sx, sy.
func Scale(sx, sy float64) Affine { return Affine{A: sx, E: sy} }

// Translation returns a transform translating by tx, ty.
func Translation(tx, ty float64) Affine { return Affine{A: 1, C: tx, E: 1, F: ty} }

// Apply transforms a point.
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.C, m.D*x + m.E*y + m.F
}

// Det returns the determinant of the linear part.
func (m Affine) Det() float64 { return m.A*m.E - m.B*m.D }

// Invert returns the inverse transform.
func (m Affine) Invert() (Affine, error) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, ErrSingular
	}
	inv := Affine{
		A: m.E / det, B: -m.B / det,
		D: -m.D / det, E: m.A / det,
	}
	inv.C = -(inv.A*m.C + inv.B*m.F)
	inv.F = -(inv.D*m.C + inv.E*m.F)
	return inv, nil
}

// Then returns the transform applying m first and n second.
func (m Affine) Then(n Affine) Affine {
	return Affine{
		A: n.A*m.A + n.B*m.D,
		B: n.A*m.B + n.B*m.E,
		C: n.A*m.C + n.B*m.F + n.C,
		D: n.D*m.A + n.E*m.D,
		E: n.D*m.B + n.E*m.E,
		F: n.D*m.C + n.E*m.F + n.F,
	}
}

// Translate returns m applied after translating input coordinates by dx, dy.
func (m Affine) Translate(dx, dy float64) Affine {
	return Translation(dx, dy).Then(m)
}

// IsIdentity reports whether m is the identity within tol.
func (m Affine) IsIdentity(tol float64) bool {
	return math.Abs(m.A-1) <= tol && math.Abs(m.B) <= tol && math.Abs(m.C) <= tol &&
		math.Abs(m.D) <= tol && math.Abs(m.E-1) <= tol && math.Abs(m.F) <= tol
}

func (m Affine) String() string {
	return fmt.Sprintf("[%g %g %g; %g %g %g]", m.A, m.B, m.C, m.D, m.E, m.F)
}

// Linear returns the linear part of m (its derivative at any point).
func (m Affine) Linear() Affine {
	return Affine{A: m.A, B: m.B, D: m.D, E: m.E}
}
