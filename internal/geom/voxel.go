package geom

import "math"

// VoxelGroup is the set of input indices that fell into one voxel, plus the
// index of the member closest to the voxel centroid.
type VoxelGroup struct {
	Members        []int
	Representative int
}

type cellKey [3]int64

func cellOf(x, y, z, size float64) cellKey {
	return cellKey{
		int64(math.Floor(x / size)),
		int64(math.Floor(y / size)),
		int64(math.Floor(z / size)),
	}
}

// VoxelGroups buckets the cloud into cubic voxels of edge leafSize.
// Groups are ordered by the first member's index so the output is
// deterministic. A non-positive leafSize puts every point in its own group.
func VoxelGroups[A any](c Cloud[A], leafSize float64) []VoxelGroup {
	if len(c) == 0 {
		return nil
	}
	if leafSize <= 0 {
		groups := make([]VoxelGroup, len(c))
		for i := range c {
			groups[i] = VoxelGroup{Members: []int{i}, Representative: i}
		}
		return groups
	}

	slot := make(map[cellKey]int, len(c)/4+1)
	var groups []VoxelGroup
	for i, p := range c {
		k := cellOf(p.X, p.Y, p.Z, leafSize)
		g, ok := slot[k]
		if !ok {
			g = len(groups)
			slot[k] = g
			groups = append(groups, VoxelGroup{})
		}
		groups[g].Members = append(groups[g].Members, i)
	}

	for gi := range groups {
		g := &groups[gi]
		var cx, cy, cz float64
		for _, m := range g.Members {
			cx += c[m].X
			cy += c[m].Y
			cz += c[m].Z
		}
		n := float64(len(g.Members))
		centroid := Point[NoAttr]{X: cx / n, Y: cy / n, Z: cz / n}

		best := g.Members[0]
		bestD := math.Inf(1)
		for _, m := range g.Members {
			if d := DistSq(c[m], centroid); d < bestD {
				bestD = d
				best = m
			}
		}
		g.Representative = best
	}
	return groups
}

// VoxelGrid downsamples the cloud keeping, per voxel, the input point
// closest to the voxel centroid. Attributes of kept points are preserved.
func VoxelGrid[A any](c Cloud[A], leafSize float64) Cloud[A] {
	if len(c) == 0 {
		return nil
	}
	if leafSize <= 0 {
		out := make(Cloud[A], len(c))
		copy(out, c)
		return out
	}
	groups := VoxelGroups(c, leafSize)
	out := make(Cloud[A], len(groups))
	for i, g := range groups {
		out[i] = c[g.Representative]
	}
	return out
}
