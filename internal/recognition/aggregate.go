package recognition

import "github.com/banshee-data/objverify/internal/geom"

// FinalPoses composes each refined correction on top of its coarse pose.
// refined may be shorter than coarse or contain nil entries; those
// hypotheses keep their coarse pose unchanged.
func FinalPoses(coarse []geom.Transform, refined []*geom.Transform) []geom.Transform {
	out := make([]geom.Transform, len(coarse))
	copy(out, coarse)
	for i := range out {
		if i < len(refined) && refined[i] != nil {
			out[i] = geom.Compose(*refined[i], coarse[i])
		}
	}
	return out
}
