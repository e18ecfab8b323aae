package geom

import "math"

// NoAttr is the attribute type for plain XYZ clouds.
type NoAttr struct{}

// RGB is a packed colour attribute.
type RGB struct {
	R, G, B uint8
}

// Point is a position in metres plus an attribute channel carried through
// every transform unchanged.
type Point[A any] struct {
	X, Y, Z float64
	Attr    A
}

// XYZ is a point without attributes.
type XYZ = Point[NoAttr]

// XYZRGB is a coloured point.
type XYZRGB = Point[RGB]

// Cloud is an ordered set of points. Index positions are stable.
type Cloud[A any] []Point[A]

// Normal is a surface direction. Normals are unit length unless they are
// the zero value, which marks "no normal available".
type Normal struct {
	X, Y, Z float64
}

// NormalCloud holds one normal per point of the matching Cloud.
type NormalCloud []Normal

// Pos returns the position as an array.
func (p Point[A]) Pos() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// DistSq returns the squared euclidean distance between two points.
func DistSq[A, B any](p Point[A], q Point[B]) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Norm returns the euclidean length of n.
func (n Normal) Norm() float64 {
	return math.Sqrt(n.X*n.X + n.Y*n.Y + n.Z*n.Z)
}

// Normalize returns n scaled to unit length. The zero normal is returned
// unchanged.
func (n Normal) Normalize() Normal {
	l := n.Norm()
	if l == 0 {
		return n
	}
	return Normal{X: n.X / l, Y: n.Y / l, Z: n.Z / l}
}

// Dot returns the dot product of two normals.
func (n Normal) Dot(m Normal) float64 {
	return n.X*m.X + n.Y*m.Y + n.Z*m.Z
}

// IsZero reports whether n carries no direction.
func (n Normal) IsZero() bool {
	return n.X == 0 && n.Y == 0 && n.Z == 0
}

// Centroid returns the mean position of the cloud. An empty cloud yields
// the origin.
func (c Cloud[A]) Centroid() (x, y, z float64) {
	if len(c) == 0 {
		return 0, 0, 0
	}
	for _, p := range c {
		x += p.X
		y += p.Y
		z += p.Z
	}
	n := float64(len(c))
	return x / n, y / n, z / n
}
