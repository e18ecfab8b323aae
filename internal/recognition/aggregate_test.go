package recognition

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/objverify/internal/geom"
)

func TestFinalPoses(t *testing.T) {
	coarse := []geom.Transform{
		geom.Translation(1, 0, 0),
		geom.Compose(geom.Translation(0, 2, 0), geom.RotationAxis(0, 0, 1, 0.3)),
		geom.Translation(0, 0, 3),
	}
	corr := geom.Translation(0.01, 0, 0)

	tests := []struct {
		name    string
		refined []*geom.Transform
		want    []geom.Transform
	}{
		{
			name:    "no refinement",
			refined: nil,
			want:    coarse,
		},
		{
			name:    "sparse",
			refined: []*geom.Transform{nil, &corr, nil},
			want:    []geom.Transform{coarse[0], geom.Compose(corr, coarse[1]), coarse[2]},
		},
		{
			name:    "short",
			refined: []*geom.Transform{&corr},
			want:    []geom.Transform{geom.Compose(corr, coarse[0]), coarse[1], coarse[2]},
		},
		{
			name:    "longer than coarse",
			refined: []*geom.Transform{nil, nil, nil, &corr},
			want:    coarse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FinalPoses(coarse, tt.refined)
			// Unrefined entries must be bit-for-bit copies of the coarse pose.
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FinalPoses mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFinalPoses_CompositionOrder(t *testing.T) {
	coarse := []geom.Transform{geom.RotationAxis(0, 0, 1, 1.2)}
	corr := geom.Translation(0.5, 0, 0)
	got := FinalPoses(coarse, []*geom.Transform{&corr})

	// The correction is applied after the coarse placement.
	x, y, _ := got[0].Apply(0, 0, 0)
	if x != 0.5 || y != 0 {
		t.Errorf("origin maps to (%g,%g), want (0.5,0)", x, y)
	}
}

func TestFinalPoses_Empty(t *testing.T) {
	if got := FinalPoses(nil, nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestFinalPoses_DoesNotAliasInput(t *testing.T) {
	coarse := []geom.Transform{geom.Identity}
	got := FinalPoses(coarse, nil)
	got[0][3] = 42
	if coarse[0][3] != 0 {
		t.Error("FinalPoses result aliases the coarse slice")
	}
}
