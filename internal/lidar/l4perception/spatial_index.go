package l4perception

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/l3grid"
)

// EstimatedPointsPerCell is used for initial spatial index capacity estimation.
const EstimatedPointsPerCell = 4

// SpatialIndex provides radius queries over a point set using a regular 3D
// grid. Cell size should approximately match the query radius.
type SpatialIndex struct {
	CellSize float64
	Grid     map[l3grid.VoxelKey][]int // cell → point indices, ascending

	points []r3.Vec
	keys   []l3grid.VoxelKey
	valid  []bool
}

// NewSpatialIndex creates a spatial index with the specified cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[l3grid.VoxelKey][]int),
	}
}

// Build populates the index. Points with non-finite coordinates are not
// indexed and never appear in query results.
func (si *SpatialIndex) Build(points []r3.Vec) {
	si.points = points
	si.keys = make([]l3grid.VoxelKey, len(points))
	si.valid = make([]bool, len(points))
	si.Grid = make(map[l3grid.VoxelKey][]int, len(points)/EstimatedPointsPerCell+1)

	for i, p := range points {
		k, ok := l3grid.KeyOf(p, si.CellSize)
		if !ok {
			continue
		}
		si.keys[i], si.valid[i] = k, true
		si.Grid[k] = append(si.Grid[k], i)
	}
}

// Indexed reports whether points[idx] was accepted into the index.
func (si *SpatialIndex) Indexed(idx int) bool {
	return si.valid[idx]
}

// RegionQuery appends to dst the indices of all indexed points within eps
// of points[idx], including idx itself, and returns the extended slice.
// Result order is deterministic for a given index.
func (si *SpatialIndex) RegionQuery(idx int, eps float64, dst []int) []int {
	if !si.valid[idx] {
		return dst
	}
	p := si.points[idx]
	eps2 := eps * eps
	reach := int64(math.Ceil(eps / si.CellSize))
	base := si.keys[idx]

	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -reach; dz <= reach; dz++ {
				for _, candidateIdx := range si.Grid[base.Offset(dx, dy, dz)] {
					if r3.Norm2(r3.Sub(si.points[candidateIdx], p)) <= eps2 {
						dst = append(dst, candidateIdx)
					}
				}
			}
		}
	}
	return dst
}
