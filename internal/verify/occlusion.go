package verify

import (
	"math"

	"github.com/banshee-data/objverify/internal/geom"
)

type binKey [2]int32

// rangeImage is a spherical depth map around the viewpoint built from the
// occlusion cloud. Each bin keeps the closest observed range.
//
// Bins are laid out in a frame whose forward axis is the mean viewing
// direction of the occlusion cloud, with the pole placed off to the side so
// no bin near the centre of view degenerates.
type rangeImage struct {
	origin  geom.Normal
	right   geom.Normal
	up      geom.Normal
	forward geom.Normal

	binRad    float64
	threshold float64
	depth     map[binKey]float64
}

func newRangeImage[A any](occ geom.Cloud[A], viewpoint [3]float64, resolutionDeg, threshold float64) *rangeImage {
	ri := &rangeImage{
		origin:    geom.Normal{X: viewpoint[0], Y: viewpoint[1], Z: viewpoint[2]},
		binRad:    resolutionDeg * math.Pi / 180,
		threshold: threshold,
		depth:     make(map[binKey]float64, len(occ)/2+1),
	}

	var mean geom.Normal
	for _, p := range occ {
		d := geom.Normal{X: p.X - ri.origin.X, Y: p.Y - ri.origin.Y, Z: p.Z - ri.origin.Z}.Normalize()
		mean.X += d.X
		mean.Y += d.Y
		mean.Z += d.Z
	}
	ri.setFrame(mean)

	for _, p := range occ {
		k, r, ok := ri.bin(p.X, p.Y, p.Z)
		if !ok {
			continue
		}
		if d, seen := ri.depth[k]; !seen || r < d {
			ri.depth[k] = r
		}
	}
	return ri
}

func (ri *rangeImage) setFrame(forward geom.Normal) {
	forward = forward.Normalize()
	if forward.IsZero() {
		forward = geom.Normal{Z: 1}
	}
	// Any helper axis not parallel to forward works.
	helper := geom.Normal{Y: 1}
	if math.Abs(forward.Dot(helper)) > 0.9 {
		helper = geom.Normal{X: 1}
	}
	right := cross(helper, forward).Normalize()
	ri.forward = forward
	ri.right = right
	ri.up = cross(forward, right)
}

// bin returns the bin and range of a point. Points at the viewpoint have no
// bin.
func (ri *rangeImage) bin(x, y, z float64) (binKey, float64, bool) {
	d := geom.Normal{X: x - ri.origin.X, Y: y - ri.origin.Y, Z: z - ri.origin.Z}
	r := d.Norm()
	if r == 0 || ri.binRad <= 0 {
		return binKey{}, 0, false
	}
	a, b, c := d.Dot(ri.right), d.Dot(ri.up), d.Dot(ri.forward)
	az := math.Atan2(a, c)
	el := math.Asin(math.Max(-1, math.Min(1, b/r)))
	return binKey{int32(math.Floor(az / ri.binRad)), int32(math.Floor(el / ri.binRad))}, r, true
}

// visible reports whether a point at (x,y,z) could have been observed: it
// is no farther than the closest observation in its bin plus the
// occlusion threshold. An empty bin borrows the closest depth of its 3x3
// neighbourhood; a point with no observation around it is not visible.
func (ri *rangeImage) visible(x, y, z float64) bool {
	k, r, ok := ri.bin(x, y, z)
	if !ok {
		return false
	}
	d, seen := ri.depth[k]
	if !seen {
		d = math.Inf(1)
		for da := int32(-1); da <= 1; da++ {
			for de := int32(-1); de <= 1; de++ {
				if v, ok := ri.depth[binKey{k[0] + da, k[1] + de}]; ok && v < d {
					d = v
					seen = true
				}
			}
		}
		if !seen {
			return false
		}
	}
	return r <= d+ri.threshold
}

func cross(a, b geom.Normal) geom.Normal {
	return geom.Normal{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// grazingSlope bounds how steeply a surface may recede along a viewing ray
// and still count as one surface: tan(70°).
const grazingSlope = 2.7474774194546216

// shadowMap finds model points hidden behind other points of the same
// model. Each point is a disc of radius splat facing the viewpoint; a point
// is self-occluded when its viewing ray passes through the disc of a point
// closer than it by more than margin and more than grazingSlope times the
// ray offset. Neighbouring samples of one surface, even when tilted, stay
// visible.
type shadowMap struct {
	frame  rangeImage
	splat  float64
	margin float64
	rel    []geom.Normal // point offsets from the viewpoint
	rng    []float64
	keys   []binKey
	bins   map[binKey][]int32
}

// newShadowMap bins the model in the frame of ri with bins as wide as one
// splat at the nearest model point. It returns nil when there is nothing to
// shade.
func newShadowMap[A any](ri *rangeImage, model geom.Cloud[A], splat, margin float64) *shadowMap {
	if len(model) == 0 || splat <= 0 {
		return nil
	}
	sm := &shadowMap{
		frame:  *ri,
		splat:  splat,
		margin: margin,
		rel:    make([]geom.Normal, len(model)),
		rng:    make([]float64, len(model)),
		keys:   make([]binKey, len(model)),
		bins:   make(map[binKey][]int32, len(model)),
	}
	sm.frame.depth = nil

	nearest := math.Inf(1)
	for i, q := range model {
		d := geom.Normal{X: q.X - ri.origin.X, Y: q.Y - ri.origin.Y, Z: q.Z - ri.origin.Z}
		sm.rel[i] = d
		sm.rng[i] = d.Norm()
		if r := sm.rng[i]; r > 0 && r < nearest {
			nearest = r
		}
	}
	if math.IsInf(nearest, 1) {
		return nil
	}
	sm.frame.binRad = splat / nearest
	for i, q := range model {
		k, _, ok := sm.frame.bin(q.X, q.Y, q.Z)
		if !ok {
			continue
		}
		sm.keys[i] = k
		sm.bins[k] = append(sm.bins[k], int32(i))
	}
	return sm
}

// hidden reports whether model point i is covered by a nearer model point.
func (sm *shadowMap) hidden(i int) bool {
	if sm == nil || sm.rng[i] == 0 {
		return false
	}
	p, rp := sm.rel[i], sm.rng[i]
	u := geom.Normal{X: p.X / rp, Y: p.Y / rp, Z: p.Z / rp}
	k := sm.keys[i]
	for da := int32(-1); da <= 1; da++ {
		for de := int32(-1); de <= 1; de++ {
			for _, j := range sm.bins[binKey{k[0] + da, k[1] + de}] {
				lead := rp - sm.rng[j]
				if int(j) == i || lead <= sm.margin {
					continue
				}
				q := sm.rel[j]
				along := q.Dot(u)
				if along <= 0 {
					continue
				}
				off := math.Sqrt(math.Max(0, q.Dot(q)-along*along))
				if off < sm.splat && lead > grazingSlope*off {
					return true
				}
			}
		}
	}
	return false
}
