// Package motionprofile turns a geometric path into time-indexed,
// kinematically bounded position and velocity setpoints for the two sides
// of a differential drive.
package motionprofile

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate/quad"
)

// legendreNodes is the fixed Gauss-Legendre node count used for arc-length
// quadrature. Bezier speed functions are smooth, so a modest rule converges
// well past float precision needs.
const legendreNodes = 16

// A Curve is a Bezier curve given by its ordered control points. It is
// consumed read-only.
type Curve []mgl64.Vec2

// ErrTooFewPoints is returned for curves with fewer than two control points.
var ErrTooFewPoints = errors.New("curve needs at least two control points")

// Validate ensures the curve is well formed.
func (c Curve) Validate() error {
	if len(c) < 2 {
		return ErrTooFewPoints
	}
	return nil
}

// Point evaluates the curve at u in [0, 1] by de Casteljau reduction.
func (c Curve) Point(u float64) mgl64.Vec2 {
	if len(c) == 0 {
		return mgl64.Vec2{}
	}
	pts := append([]mgl64.Vec2(nil), c...)
	for n := len(pts); n > 1; n-- {
		for i := 0; i < n-1; i++ {
			pts[i] = pts[i].Mul(1 - u).Add(pts[i+1].Mul(u))
		}
	}
	return pts[0]
}

// hodograph returns the derivative curve, itself a Bezier of one lower
// degree.
func (c Curve) hodograph() Curve {
	if len(c) < 2 {
		return Curve{{}}
	}
	n := float64(len(c) - 1)
	d := make(Curve, 0, len(c)-1)
	for i := 0; i < len(c)-1; i++ {
		d = append(d, c[i+1].Sub(c[i]).Mul(n))
	}
	return d
}

// Derivative evaluates dB/du at u.
func (c Curve) Derivative(u float64) mgl64.Vec2 {
	return c.hodograph().Point(u)
}

// Curvature returns the signed curvature at u. Positive curvature bends
// toward +90° from the direction of travel (a left turn). Degenerate points
// with near-zero speed report zero curvature.
func (c Curve) Curvature(u float64) float64 {
	d1 := c.hodograph()
	v := d1.Point(u)
	a := d1.hodograph().Point(u)
	speed := v.Len()
	if speed < 1e-9 {
		return 0
	}
	return (v.X()*a.Y() - v.Y()*a.X()) / math.Pow(speed, 3)
}

// Length returns the arc length between parameters a and b via fixed
// Gauss-Legendre quadrature.
func (c Curve) Length(a, b float64) float64 {
	d := c.hodograph()
	speed := func(u float64) float64 {
		return d.Point(u).Len()
	}
	return quad.Fixed(speed, a, b, legendreNodes, nil, 0)
}
