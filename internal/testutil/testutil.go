// Package testutil provides shared test fixtures: synthetic models, scenes
// and assertion helpers.
//
// The fixtures model a sensor at the origin looking down +Z at boxes about
// one metre away. They are also used by the hvctl demo command.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/model"
)

// Default box fixture dimensions in metres.
const (
	BoxSize    = 0.1
	BoxSpacing = 0.005
)

// Origin is the default sensor viewpoint.
var Origin = [3]float64{0, 0, 0}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertTransformNear fails the test if any element of got differs from
// want by more than tol.
func AssertTransformNear(t testing.TB, got, want geom.Transform, tol float64) {
	t.Helper()
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("transform[%d] = %.9f, want %.9f (tol %g)", i, got[i], want[i], tol)
		}
	}
}

// Box returns a hollow cube of edge size centred on the origin, sampled on
// a square lattice with outward normals. Edge points are emitted once.
func Box(id string, size, spacing float64) model.Model[geom.NoAttr] {
	m := model.Model[geom.NoAttr]{ID: id}
	half := size / 2
	steps := int(math.Round(size / spacing))
	seen := make(map[[3]int64]struct{})

	add := func(x, y, z float64, n geom.Normal) {
		k := [3]int64{int64(math.Round(x * 1e6)), int64(math.Round(y * 1e6)), int64(math.Round(z * 1e6))}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		m.Cloud = append(m.Cloud, geom.XYZ{X: x, Y: y, Z: z})
		m.Normals = append(m.Normals, n)
	}

	// Faces are emitted one at a time so shared edges keep the normal of
	// the face listed first; the sensor-facing -Z face goes first.
	faces := []func(u, v float64){
		func(u, v float64) { add(u, v, -half, geom.Normal{Z: -1}) },
		func(u, v float64) { add(u, v, half, geom.Normal{Z: 1}) },
		func(u, v float64) { add(-half, u, v, geom.Normal{X: -1}) },
		func(u, v float64) { add(half, u, v, geom.Normal{X: 1}) },
		func(u, v float64) { add(u, -half, v, geom.Normal{Y: -1}) },
		func(u, v float64) { add(u, half, v, geom.Normal{Y: 1}) },
	}
	for _, face := range faces {
		for i := 0; i <= steps; i++ {
			for j := 0; j <= steps; j++ {
				face(float64(i)*spacing-half, float64(j)*spacing-half)
			}
		}
	}
	return m
}

// BoxPose places a box of edge BoxSize so its face nearest the sensor lies
// in the plane z, centred on (x, y).
func BoxPose(x, y, z float64) geom.Transform {
	return geom.Translation(x, y, z+BoxSize/2)
}

// Observed returns the points of m, placed by pose, whose normals face the
// viewpoint. It is what a sensor at viewpoint would see of an isolated
// object.
func Observed[A any](m model.Model[A], pose geom.Transform, viewpoint [3]float64) geom.Cloud[A] {
	pts := geom.TransformCloud(m.Cloud, pose)
	normals := geom.RotateNormals(m.Normals, pose)
	var out geom.Cloud[A]
	for i, p := range pts {
		n := normals[i]
		if n.X*(viewpoint[0]-p.X)+n.Y*(viewpoint[1]-p.Y)+n.Z*(viewpoint[2]-p.Z) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Wall returns a square lattice in the plane z, centred on (cx, cy) with
// half-width half.
func Wall(cx, cy, z, half, spacing float64) geom.Cloud[geom.NoAttr] {
	steps := int(math.Round(2 * half / spacing))
	out := make(geom.Cloud[geom.NoAttr], 0, (steps+1)*(steps+1))
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			out = append(out, geom.XYZ{
				X: cx - half + float64(i)*spacing,
				Y: cy - half + float64(j)*spacing,
				Z: z,
			})
		}
	}
	return out
}

// Lattice returns an n×n×n cubic lattice with the given spacing, starting
// at the origin.
func Lattice(n int, spacing float64) geom.Cloud[geom.NoAttr] {
	out := make(geom.Cloud[geom.NoAttr], 0, n*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				out = append(out, geom.XYZ{X: float64(i) * spacing, Y: float64(j) * spacing, Z: float64(k) * spacing})
			}
		}
	}
	return out
}

// Concat joins clouds into a new cloud.
func Concat[A any](clouds ...geom.Cloud[A]) geom.Cloud[A] {
	var n int
	for _, c := range clouds {
		n += len(c)
	}
	out := make(geom.Cloud[A], 0, n)
	for _, c := range clouds {
		out = append(out, c...)
	}
	return out
}

// Scenario is a ready-made scene with its hypotheses.
type Scenario struct {
	Registry   *model.Registry[geom.NoAttr]
	Scene      geom.Cloud[geom.NoAttr]
	Hypotheses []model.Hypothesis
}

// ThreeBoxes is three separated boxes, each observed and each proposed once.
func ThreeBoxes() Scenario {
	box := Box("box", BoxSize, BoxSpacing)
	reg := model.NewRegistry[geom.NoAttr]()
	_ = reg.Add(box)

	var s Scenario
	s.Registry = reg
	var parts []geom.Cloud[geom.NoAttr]
	for _, x := range []float64{-0.3, 0, 0.3} {
		pose := BoxPose(x, 0, 1.0)
		parts = append(parts, Observed(box, pose, Origin))
		s.Hypotheses = append(s.Hypotheses, model.Hypothesis{ModelID: "box", Coarse: pose})
	}
	s.Scene = Concat(parts...)
	return s
}
