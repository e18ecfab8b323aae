package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultRigidTolerance is the tolerance used when checking that a rotation
// block is orthonormal.
const DefaultRigidTolerance = 1e-4

// ErrNotRigid is returned when a transform is not a proper rigid motion.
var ErrNotRigid = errors.New("transform is not rigid")

// Transform is a 4x4 row-major homogeneous transform:
// [m00,m01,m02,m03, m10,m11,m12,m13, m20,m21,m22,m23, m30,m31,m32,m33]
type Transform [16]float64

// Identity is the 4x4 identity transform.
var Identity = Transform{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Translation returns a pure translation.
func Translation(x, y, z float64) Transform {
	t := Identity
	t[3], t[7], t[11] = x, y, z
	return t
}

// RotationAxis returns a rotation of angle radians about the given axis
// (Rodrigues). The axis does not need to be unit length; a zero axis
// yields the identity.
func RotationAxis(ax, ay, az, angle float64) Transform {
	l := math.Sqrt(ax*ax + ay*ay + az*az)
	if l == 0 {
		return Identity
	}
	ax, ay, az = ax/l, ay/l, az/l
	c, s := math.Cos(angle), math.Sin(angle)
	k := 1 - c
	return Transform{
		c + ax*ax*k, ax*ay*k - az*s, ax*az*k + ay*s, 0,
		ay*ax*k + az*s, c + ay*ay*k, ay*az*k - ax*s, 0,
		az*ax*k - ay*s, az*ay*k + ax*s, c + az*az*k, 0,
		0, 0, 0, 1,
	}
}

// FromRotationTranslation assembles a transform from a 3x3 rotation and a
// translation vector.
func FromRotationTranslation(r mat.Matrix, tx, ty, tz float64) Transform {
	t := Identity
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i*4+j] = r.At(i, j)
		}
	}
	t[3], t[7], t[11] = tx, ty, tz
	return t
}

// Apply applies the full transform to point (x,y,z).
func (t Transform) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = t[0]*x + t[1]*y + t[2]*z + t[3]
	wy = t[4]*x + t[5]*y + t[6]*z + t[7]
	wz = t[8]*x + t[9]*y + t[10]*z + t[11]
	return
}

// Rotate applies only the rotation block to direction (x,y,z).
func (t Transform) Rotate(x, y, z float64) (rx, ry, rz float64) {
	rx = t[0]*x + t[1]*y + t[2]*z
	ry = t[4]*x + t[5]*y + t[6]*z
	rz = t[8]*x + t[9]*y + t[10]*z
	return
}

// TranslationPart returns the translation column.
func (t Transform) TranslationPart() (x, y, z float64) {
	return t[3], t[7], t[11]
}

// Rotation returns the 3x3 rotation block as a dense matrix.
func (t Transform) Rotation() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	})
}

// Compose returns a·b: the transform that applies b first, then a.
func Compose(a, b Transform) Transform {
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += a[i*4+k] * b[k*4+j]
			}
			out[i*4+j] = s
		}
	}
	return out
}

// ValidateRigid checks that t is a proper rigid transform: RᵀR = I and
// det(R) = +1 within tol, and the last row is [0 0 0 1].
func (t Transform) ValidateRigid(tol float64) error {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite element", ErrNotRigid)
		}
	}
	if t[12] != 0 || t[13] != 0 || t[14] != 0 || math.Abs(t[15]-1) > tol {
		return fmt.Errorf("%w: last row is [%g %g %g %g]", ErrNotRigid, t[12], t[13], t[14], t[15])
	}

	r := t.Rotation()
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if d := math.Abs(rtr.At(i, j) - want); d > tol {
				return fmt.Errorf("%w: rotation not orthonormal (|RᵀR-I|[%d,%d]=%.3g)", ErrNotRigid, i, j, d)
			}
		}
	}
	if det := mat.Det(r); math.Abs(det-1) > tol {
		return fmt.Errorf("%w: rotation determinant %.6f", ErrNotRigid, det)
	}
	return nil
}

// TransformCloud returns a copy of c with every point moved by t.
// Attributes are carried over unchanged.
func TransformCloud[A any](c Cloud[A], t Transform) Cloud[A] {
	if c == nil {
		return nil
	}
	out := make(Cloud[A], len(c))
	for i, p := range c {
		x, y, z := t.Apply(p.X, p.Y, p.Z)
		out[i] = Point[A]{X: x, Y: y, Z: z, Attr: p.Attr}
	}
	return out
}

// RotateNormals returns a copy of n rotated by the rotation block of t.
// Translation does not apply to directions.
func RotateNormals(n NormalCloud, t Transform) NormalCloud {
	if n == nil {
		return nil
	}
	out := make(NormalCloud, len(n))
	for i, v := range n {
		x, y, z := t.Rotate(v.X, v.Y, v.Z)
		out[i] = Normal{X: x, Y: y, Z: z}
	}
	return out
}
