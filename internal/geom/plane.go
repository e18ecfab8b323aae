package geom

import "math"

// Plane is ax + by + cz + d = 0 with (a,b,c) unit length. The normal
// points to the free side of a support surface, so objects resting on it
// have non-negative signed distance.
type Plane struct {
	A, B, C, D float64
}

// NewPlane normalises the coefficients. A degenerate normal yields the
// zero Plane.
func NewPlane(a, b, c, d float64) Plane {
	l := math.Sqrt(a*a + b*b + c*c)
	if l == 0 {
		return Plane{}
	}
	return Plane{A: a / l, B: b / l, C: c / l, D: d / l}
}

// SignedDistance returns the distance from the plane to (x,y,z), positive on
// the normal side.
func (p Plane) SignedDistance(x, y, z float64) float64 {
	return p.A*x + p.B*y + p.C*z + p.D
}

// Valid reports whether the plane has a usable normal.
func (p Plane) Valid() bool {
	return p.A != 0 || p.B != 0 || p.C != 0
}
