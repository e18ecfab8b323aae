package verify

import (
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/objverify/internal/geom"
	"github.com/banshee-data/objverify/internal/monitoring"
)

// minCorrespondences is the smallest point set that fixes a rigid motion.
const minCorrespondences = 3

// refineAccepted runs ICP for every accepted hypothesis in parallel and
// stores converged corrections in refined. Non-convergence leaves the slot
// nil.
func refineAccepted[A any](cfg Config, scene geom.Cloud[A], models []geom.Cloud[A], p *problem, mask []bool, refined []*geom.Transform) error {
	target := make(kdtree.Points, len(scene))
	for i, s := range scene {
		target[i] = kdtree.Point{s.X, s.Y, s.Z}
	}
	tree := kdtree.New(target, false)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, accepted := range mask {
		if !accepted {
			continue
		}
		g.Go(func() error {
			src := source(models[i], p.hyps[i].inliers)
			t, err := icp(cfg, tree, src)
			if err != nil {
				monitoring.Diagf("hypothesis %d: keeping coarse pose: %v", i, err)
				return nil
			}
			refined[i] = &t
			return nil
		})
	}
	return g.Wait()
}

// source returns the model points that matched the scene during scoring.
func source[A any](model geom.Cloud[A], inliers []int32) [][3]float64 {
	out := make([][3]float64, len(inliers))
	for k, i := range inliers {
		out[k] = model[i].Pos()
	}
	return out
}

// fit measures src against tree under t: the fraction of points with a
// neighbour within the inlier threshold and the RMSE over those points.
func fit(cfg Config, tree *kdtree.Tree, src [][3]float64, t geom.Transform) (fitness, rmse float64) {
	limit := cfg.InlierThreshold * cfg.InlierThreshold
	var sum float64
	n := 0
	for _, s := range src {
		x, y, z := t.Apply(s[0], s[1], s[2])
		nearest, d2 := tree.Nearest(kdtree.Point{x, y, z})
		if nearest == nil || d2 > limit {
			continue
		}
		sum += d2
		n++
	}
	if n == 0 {
		return 0, math.Inf(1)
	}
	return float64(n) / float64(len(src)), math.Sqrt(sum / float64(n))
}

// icp aligns src to the points in tree with point-to-point ICP and returns
// the correction to apply on top of the coarse pose. Convergence needs two
// consecutive iterations whose RMSE differs by less than
// cfg.RefineConvergence, and the converged correction must fit the whole
// untrimmed source at least as well as the identity.
func icp(cfg Config, tree *kdtree.Tree, src [][3]float64) (geom.Transform, error) {
	if tree.Count == 0 || len(src) < minCorrespondences {
		return geom.Identity, fmt.Errorf("%w: too few points", ErrRefinementNonConvergence)
	}
	gate := cfg.RefineMaxCorrespondence * cfg.RefineMaxCorrespondence
	cur := geom.Identity
	prev := math.Inf(1)

	type pair struct {
		p, q [3]float64
		d2   float64
	}
	pairs := make([]pair, 0, len(src))

	for it := 0; it < cfg.RefineMaxIterations; it++ {
		pairs = pairs[:0]
		for _, s := range src {
			x, y, z := cur.Apply(s[0], s[1], s[2])
			nearest, d2 := tree.Nearest(kdtree.Point{x, y, z})
			if nearest == nil || d2 > gate {
				continue
			}
			q := nearest.(kdtree.Point)
			pairs = append(pairs, pair{p: [3]float64{x, y, z}, q: [3]float64{q[0], q[1], q[2]}, d2: d2})
		}

		slices.SortFunc(pairs, func(a, b pair) int {
			switch {
			case a.d2 < b.d2:
				return -1
			case a.d2 > b.d2:
				return 1
			}
			return 0
		})
		keep := int(math.Ceil(cfg.RefineOutlierPercentile * float64(len(pairs))))
		if keep < minCorrespondences {
			return geom.Identity, fmt.Errorf("%w: %d correspondences at iteration %d", ErrRefinementNonConvergence, keep, it)
		}
		pairs = pairs[:keep]

		var sum float64
		ps := make([][3]float64, len(pairs))
		qs := make([][3]float64, len(pairs))
		for k, pr := range pairs {
			sum += pr.d2
			ps[k], qs[k] = pr.p, pr.q
		}
		rmse := math.Sqrt(sum / float64(len(pairs)))

		step, err := kabsch(ps, qs)
		if err != nil {
			return geom.Identity, fmt.Errorf("%w: %v", ErrRefinementNonConvergence, err)
		}
		cur = geom.Compose(step, cur)

		if math.Abs(prev-rmse) < cfg.RefineConvergence {
			return accept(cfg, tree, src, cur)
		}
		prev = rmse
	}
	return geom.Identity, fmt.Errorf("%w after %d iterations", ErrRefinementNonConvergence, cfg.RefineMaxIterations)
}

// accept returns cur when it raises the inlier fitness of src over the
// identity, or keeps it and does not raise the inlier RMSE by more than the
// convergence tolerance.
func accept(cfg Config, tree *kdtree.Tree, src [][3]float64, cur geom.Transform) (geom.Transform, error) {
	f0, e0 := fit(cfg, tree, src, geom.Identity)
	f1, e1 := fit(cfg, tree, src, cur)
	if f1 > 0 && (f1 > f0 || (f1 == f0 && e1 <= e0+cfg.RefineConvergence)) {
		return cur, nil
	}
	return geom.Identity, fmt.Errorf("%w: correction worsens fit (fitness %.3f -> %.3f, rmse %.6f -> %.6f)",
		ErrRefinementNonConvergence, f0, f1, e0, e1)
}

// kabsch returns the rigid transform minimising Σ|R·p+t−q|².
func kabsch(ps, qs [][3]float64) (geom.Transform, error) {
	var pc, qc [3]float64
	for k := range ps {
		for a := 0; a < 3; a++ {
			pc[a] += ps[k][a]
			qc[a] += qs[k][a]
		}
	}
	n := float64(len(ps))
	for a := 0; a < 3; a++ {
		pc[a] /= n
		qc[a] /= n
	}

	h := mat.NewDense(3, 3, nil)
	for k := range ps {
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				h.Set(a, b, h.At(a, b)+(ps[k][a]-pc[a])*(qs[k][b]-qc[b]))
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geom.Identity, fmt.Errorf("svd failed")
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for a := 0; a < 3; a++ {
			v.Set(a, 2, -v.At(a, 2))
		}
		r.Mul(&v, u.T())
	}

	rt := geom.FromRotationTranslation(&r, 0, 0, 0)
	rx, ry, rz := rt.Rotate(pc[0], pc[1], pc[2])
	rt[3], rt[7], rt[11] = qc[0]-rx, qc[1]-ry, qc[2]-rz
	return rt, nil
}
