package geom

import "math"

// EstimatedPointsPerCell is used for initial spatial index capacity estimation.
const EstimatedPointsPerCell = 4

// SpatialIndex answers fixed-radius neighbour queries using a hashed
// regular 3D grid. Cell size should be close to the typical query radius.
type SpatialIndex[A any] struct {
	CellSize float64
	Grid     map[cellKey][]int32

	points Cloud[A]
}

// NewSpatialIndex creates an empty index with the given cell size.
func NewSpatialIndex[A any](cellSize float64) *SpatialIndex[A] {
	return &SpatialIndex[A]{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int32),
	}
}

// Build populates the index. The cloud is retained by reference and must
// not be mutated while the index is in use.
func (si *SpatialIndex[A]) Build(points Cloud[A]) {
	si.points = points
	si.Grid = make(map[cellKey][]int32, len(points)/EstimatedPointsPerCell+1)
	for i, p := range points {
		k := cellOf(p.X, p.Y, p.Z, si.CellSize)
		si.Grid[k] = append(si.Grid[k], int32(i))
	}
}

// Len returns the number of indexed points.
func (si *SpatialIndex[A]) Len() int {
	return len(si.points)
}

// Points returns the indexed cloud.
func (si *SpatialIndex[A]) Points() Cloud[A] {
	return si.points
}

// Within appends to dst the indices of all points within radius r of
// (x,y,z) and returns the extended slice.
func (si *SpatialIndex[A]) Within(x, y, z, r float64, dst []int32) []int32 {
	if len(si.points) == 0 || r < 0 {
		return dst
	}
	span := int64(math.Ceil(r / si.CellSize))
	if span < 1 {
		span = 1
	}
	r2 := r * r
	base := cellOf(x, y, z, si.CellSize)

	for dx := -span; dx <= span; dx++ {
		for dy := -span; dy <= span; dy++ {
			for dz := -span; dz <= span; dz++ {
				k := cellKey{base[0] + dx, base[1] + dy, base[2] + dz}
				for _, idx := range si.Grid[k] {
					p := si.points[idx]
					ddx := p.X - x
					ddy := p.Y - y
					ddz := p.Z - z
					if ddx*ddx+ddy*ddy+ddz*ddz <= r2 {
						dst = append(dst, idx)
					}
				}
			}
		}
	}
	return dst
}
