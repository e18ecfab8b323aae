package verify

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/objverify/internal/geom"
)

// minNormalNeighbours is the smallest neighbourhood that defines a plane.
const minNormalNeighbours = 3

// estimateNormals fits a plane to the neighbours of every indexed point and
// returns its normal, oriented towards the viewpoint. Points with too few
// neighbours or a degenerate fit get the zero normal.
func estimateNormals[A any](si *geom.SpatialIndex[A], radius float64, viewpoint [3]float64, workers int) (geom.NormalCloud, error) {
	pts := si.Points()
	out := make(geom.NormalCloud, len(pts))
	if len(pts) == 0 || radius <= 0 {
		return out, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	const chunk = 512
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(pts); start += chunk {
		end := min(start+chunk, len(pts))
		g.Go(func() error {
			var nbrs []int32
			cov := mat.NewSymDense(3, nil)
			var es mat.EigenSym
			var vecs mat.Dense
			for i := start; i < end; i++ {
				p := pts[i]
				nbrs = si.Within(p.X, p.Y, p.Z, radius, nbrs[:0])
				if len(nbrs) < minNormalNeighbours {
					continue
				}
				var cx, cy, cz float64
				for _, j := range nbrs {
					cx += pts[j].X
					cy += pts[j].Y
					cz += pts[j].Z
				}
				k := float64(len(nbrs))
				cx, cy, cz = cx/k, cy/k, cz/k

				var sxx, sxy, sxz, syy, syz, szz float64
				for _, j := range nbrs {
					dx, dy, dz := pts[j].X-cx, pts[j].Y-cy, pts[j].Z-cz
					sxx += dx * dx
					sxy += dx * dy
					sxz += dx * dz
					syy += dy * dy
					syz += dy * dz
					szz += dz * dz
				}
				cov.SetSym(0, 0, sxx)
				cov.SetSym(0, 1, sxy)
				cov.SetSym(0, 2, sxz)
				cov.SetSym(1, 1, syy)
				cov.SetSym(1, 2, syz)
				cov.SetSym(2, 2, szz)

				if !es.Factorize(cov, true) {
					continue
				}
				es.VectorsTo(&vecs)
				// Eigenvalues are ascending; the first vector is the normal.
				n := geom.Normal{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
				toView := geom.Normal{X: viewpoint[0] - p.X, Y: viewpoint[1] - p.Y, Z: viewpoint[2] - p.Z}
				if n.Dot(toView) < 0 {
					n = geom.Normal{X: -n.X, Y: -n.Y, Z: -n.Z}
				}
				out[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
