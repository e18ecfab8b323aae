package verify

import (
	"math"
	"testing"

	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/testutil"
)

func TestRangeImage_Visibility(t *testing.T) {
	wall := testutil.Wall(0, 0, 1.0, 0.2, 0.005)
	ri := newRangeImage(wall, testutil.Origin, 0.5, 0.01)

	tests := []struct {
		name    string
		x, y, z float64
		want    bool
	}{
		{"on the wall", 0, 0, 1.0, true},
		{"just behind the wall", 0.01, 0, 1.005, true},
		{"far behind the wall", 0, 0, 1.5, false},
		{"in front of the wall", 0.02, 0.02, 0.5, true},
		{"outside the observed cone", 2, 0, 1, false},
		{"at the viewpoint", 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ri.visible(tt.x, tt.y, tt.z); got != tt.want {
				t.Errorf("visible(%g,%g,%g) = %v, want %v", tt.x, tt.y, tt.z, got, tt.want)
			}
		})
	}
}

func TestRangeImage_EmptyNeighbourhoodFallback(t *testing.T) {
	// A single observation straight ahead; an adjacent bin borrows its depth.
	occ := geom.Cloud[geom.NoAttr]{{X: 0, Y: 0, Z: 1}}
	ri := newRangeImage(occ, testutil.Origin, 1.0, 0.01)

	if !ri.visible(0.025, 0, 1.0) {
		t.Error("neighbouring bin should borrow the observed depth")
	}
	if ri.visible(0.025, 0, 1.2) {
		t.Error("borrowed depth should still occlude far points")
	}
	if ri.visible(0.2, 0, 1.0) {
		t.Error("points with no observation nearby are not visible")
	}
}

func TestEstimateNormals_Plane(t *testing.T) {
	wall := testutil.Wall(0, 0, 1.0, 0.05, 0.005)
	si := geom.NewSpatialIndex[geom.NoAttr](0.015)
	si.Build(wall)

	normals, err := estimateNormals(si, 0.015, testutil.Origin, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(normals) != len(wall) {
		t.Fatalf("got %d normals for %d points", len(normals), len(wall))
	}
	for i, n := range normals {
		if n.IsZero() {
			t.Fatalf("normal %d missing", i)
		}
		// Oriented towards the viewpoint at the origin.
		if n.Z > -0.999 {
			t.Fatalf("normal %d = %+v, want close to (0,0,-1)", i, n)
		}
	}
}

func TestEstimateNormals_Sparse(t *testing.T) {
	pts := geom.Cloud[geom.NoAttr]{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}}
	si := geom.NewSpatialIndex[geom.NoAttr](0.01)
	si.Build(pts)
	normals, err := estimateNormals(si, 0.01, testutil.Origin, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range normals {
		if !n.IsZero() {
			t.Errorf("isolated point %d got normal %+v", i, n)
		}
	}
}

func TestShadowMap_PointBehindPoint(t *testing.T) {
	ri := newRangeImage[geom.NoAttr](nil, testutil.Origin, 0.5, 0.01)
	c := geom.Cloud[geom.NoAttr]{
		{X: 0.01, Y: 0, Z: 1.0},
		{X: 0.0105, Y: 0, Z: 1.05},
		{X: 0.2, Y: 0, Z: 1.2},
	}
	sm := newShadowMap(ri, c, 0.005, 0.0025)

	want := []bool{false, true, false}
	for i := range c {
		if got := sm.hidden(i); got != want[i] {
			t.Errorf("hidden(%d) = %v, want %v", i, got, want[i])
		}
	}
}

func TestShadowMap_TiltedSurfaceStaysVisible(t *testing.T) {
	ri := newRangeImage[geom.NoAttr](nil, testutil.Origin, 0.5, 0.01)
	var c geom.Cloud[geom.NoAttr]
	s := math.Sqrt(0.5)
	for i := -10; i <= 10; i++ {
		for j := -10; j <= 10; j++ {
			u, v := float64(i)*0.005, float64(j)*0.005
			c = append(c, geom.XYZ{X: u * s, Y: v, Z: 1 + u*s})
		}
	}
	sm := newShadowMap(ri, c, 0.005, 0.0025)
	for i := range c {
		if sm.hidden(i) {
			t.Fatalf("point %d %+v of a 45° surface hidden", i, c[i])
		}
	}
}

func TestShadowMap_Empty(t *testing.T) {
	ri := newRangeImage[geom.NoAttr](nil, testutil.Origin, 0.5, 0.01)
	if sm := newShadowMap[geom.NoAttr](ri, nil, 0.005, 0.0025); sm != nil {
		t.Errorf("expected nil shadow map, got %+v", sm)
	}
	var sm *shadowMap
	if sm.hidden(0) {
		t.Error("nil shadow map hides nothing")
	}
}
