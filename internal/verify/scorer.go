package verify

import (
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/monitoring"
)

// candidate is the standalone evaluation of one aligned hypothesis.
type candidate struct {
	visible     []int32 // model point indices that could have been observed
	inliers     []int32 // visible model point indices with a scene match
	explained   []int32 // sorted scene point indices within the inlier threshold
	penetration float64
	own         float64
}

// problem is the precomputed input of the subset search.
type problem struct {
	cfg       Config
	sceneSize int
	hyps      []candidate
	overlap   [][]float64 // weighted pairwise penalty, symmetric, zero diagonal
}

func buildProblem[A any](cfg Config, scene, occ geom.Cloud[A], planes []geom.Plane, models []geom.Cloud[A], normals []geom.NormalCloud) (*problem, error) {
	n := len(models)
	p := &problem{
		cfg:       cfg,
		sceneSize: len(scene),
		hyps:      make([]candidate, n),
		overlap:   make([][]float64, n),
	}
	for i := range p.overlap {
		p.overlap[i] = make([]float64, n)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cell := cfg.InlierThreshold
	if cfg.UseNormals && cfg.NormalRadius > cell {
		cell = cfg.NormalRadius
	}
	positions := make(geom.Cloud[geom.NoAttr], len(scene))
	for i, s := range scene {
		positions[i] = geom.XYZ{X: s.X, Y: s.Y, Z: s.Z}
	}
	si := geom.NewSpatialIndex[geom.NoAttr](cell)
	si.Build(positions)

	var sceneNormals geom.NormalCloud
	if cfg.UseNormals {
		var err error
		sceneNormals, err = estimateNormals(si, cfg.NormalRadius, cfg.Viewpoint, workers)
		if err != nil {
			return nil, err
		}
	}
	ri := newRangeImage(occ, cfg.Viewpoint, cfg.AngularResolutionDeg, cfg.OcclusionThreshold)

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range models {
		g.Go(func() error {
			var mn geom.NormalCloud
			if cfg.UseNormals {
				mn = normals[i]
			}
			p.hyps[i] = evaluate(cfg, si, sceneNormals, ri, planes, models[i], mn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range p.hyps {
		h := &p.hyps[i]
		monitoring.Diagf("hypothesis %d: visible=%d matched=%d explained=%d penetration=%.3f own=%.4f",
			i, len(h.visible), len(h.inliers), len(h.explained), h.penetration, h.own)
	}

	var pg errgroup.Group
	pg.SetLimit(workers)
	for i := 0; i < n; i++ {
		pg.Go(func() error {
			for j := i + 1; j < n; j++ {
				v := cfg.OverlapWeight * overlapFraction(p.hyps[i].explained, p.hyps[j].explained)
				p.overlap[i][j] = v
				p.overlap[j][i] = v
			}
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// evaluate scores one hypothesis on its own.
func evaluate[A any](cfg Config, si *geom.SpatialIndex[geom.NoAttr], sceneNormals geom.NormalCloud, ri *rangeImage, planes []geom.Plane, model geom.Cloud[A], normals geom.NormalCloud) candidate {
	var c candidate
	if len(model) == 0 {
		c.own = -cfg.OutlierWeight
		return c
	}
	minCos := cosDeg(cfg.NormalAngleToleranceDeg)

	below := 0
	for _, q := range model {
		for _, pl := range planes {
			if pl.Valid() && pl.SignedDistance(q.X, q.Y, q.Z) < -cfg.PlaneMargin {
				below++
				break
			}
		}
	}
	c.penetration = float64(below) / float64(len(model))

	shadows := newShadowMap(ri, model, cfg.InlierThreshold, cfg.InlierThreshold/2)
	seen := make(map[int32]struct{})
	var nbrs []int32
	for mi, q := range model {
		if !ri.visible(q.X, q.Y, q.Z) || shadows.hidden(mi) {
			continue
		}
		c.visible = append(c.visible, int32(mi))
		nbrs = si.Within(q.X, q.Y, q.Z, cfg.InlierThreshold, nbrs[:0])
		hit := false
		for _, s := range nbrs {
			if sceneNormals != nil && !normalsAgree(normals[mi], sceneNormals[s], minCos) {
				continue
			}
			hit = true
			seen[s] = struct{}{}
		}
		if hit {
			c.inliers = append(c.inliers, int32(mi))
		}
	}
	c.explained = make([]int32, 0, len(seen))
	for s := range seen {
		c.explained = append(c.explained, s)
	}
	slices.Sort(c.explained)

	f := 0.0
	if len(c.visible) >= cfg.MinVisiblePoints && len(c.visible) > 0 {
		f = float64(len(c.inliers)) / float64(len(c.visible))
	}
	c.own = cfg.ExplanationWeight*f - cfg.OutlierWeight*(1-f) - cfg.PlaneWeight*c.penetration
	return c
}

// normalsAgree compares directions regardless of orientation. A zero normal
// on either side passes.
func normalsAgree(a, b geom.Normal, minCos float64) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return math.Abs(a.Dot(b)) >= minCos*a.Norm()*b.Norm()
}

// overlapFraction returns |a∩b| / min(|a|,|b|) for sorted index sets.
func overlapFraction(a, b []int32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			shared++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return float64(shared) / float64(min(len(a), len(b)))
}

// selection is a subset of hypotheses plus the bookkeeping needed to score
// single moves without rescoring the scene.
type selection struct {
	p           *problem
	selected    []bool
	counts      []int32 // selected hypotheses explaining each scene point
	unexplained int
	score       float64
}

func newSelection(p *problem) *selection {
	s := &selection{
		p:           p,
		selected:    make([]bool, len(p.hyps)),
		counts:      make([]int32, p.sceneSize),
		unexplained: p.sceneSize,
	}
	s.score = -s.unexplainedCost(s.unexplained)
	return s
}

func (s *selection) unexplainedCost(n int) float64 {
	if s.p.sceneSize == 0 {
		return 0
	}
	return s.p.cfg.UnexplainedWeight * float64(n) / float64(s.p.sceneSize)
}

// pairCost sums the overlap of h with every selected hypothesis other than h.
func (s *selection) pairCost(h int) float64 {
	var sum float64
	for g, on := range s.selected {
		if on && g != h {
			sum += s.p.overlap[h][g]
		}
	}
	return sum
}

// addDelta is the score change of selecting h.
func (s *selection) addDelta(h int) float64 {
	gained := 0
	for _, sp := range s.p.hyps[h].explained {
		if s.counts[sp] == 0 {
			gained++
		}
	}
	return s.p.hyps[h].own - s.pairCost(h) + s.unexplainedCost(gained)
}

// removeDelta is the score change of deselecting h.
func (s *selection) removeDelta(h int) float64 {
	lost := 0
	for _, sp := range s.p.hyps[h].explained {
		if s.counts[sp] == 1 {
			lost++
		}
	}
	return -s.p.hyps[h].own + s.pairCost(h) - s.unexplainedCost(lost)
}

// toggleDelta is the score change of flipping h.
func (s *selection) toggleDelta(h int) float64 {
	if s.selected[h] {
		return s.removeDelta(h)
	}
	return s.addDelta(h)
}

// toggle flips h and returns the score change.
func (s *selection) toggle(h int) float64 {
	d := s.toggleDelta(h)
	if s.selected[h] {
		for _, sp := range s.p.hyps[h].explained {
			s.counts[sp]--
			if s.counts[sp] == 0 {
				s.unexplained++
			}
		}
	} else {
		for _, sp := range s.p.hyps[h].explained {
			if s.counts[sp] == 0 {
				s.unexplained--
			}
			s.counts[sp]++
		}
	}
	s.selected[h] = !s.selected[h]
	s.score += d
	return d
}

// mostOverlapping returns the selected hypothesis sharing the most scene
// with h, or -1 when none overlaps.
func (s *selection) mostOverlapping(h int) int {
	best, bestV := -1, 0.0
	for g, on := range s.selected {
		if on && g != h && s.p.overlap[h][g] > bestV {
			best, bestV = g, s.p.overlap[h][g]
		}
	}
	return best
}

// polish applies the best improving single toggle until none improves.
func (s *selection) polish() {
	for {
		best, bestD := -1, scoreEpsilon
		for h := range s.selected {
			if d := s.toggleDelta(h); d > bestD {
				best, bestD = h, d
			}
		}
		if best < 0 {
			return
		}
		s.toggle(best)
	}
}

// scoreEpsilon ignores improvements below floating-point noise.
const scoreEpsilon = 1e-12
