package l3grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MinCellSize is the smallest accepted voxel edge or cluster tolerance.
const MinCellSize = 1e-4

var (
	ErrInvalidVoxelSize = errors.New("voxel size must be >= 1e-4")
	ErrInvalidMinPoints = errors.New("min points per leaf must be >= 0")
)

// maxCellIndex keeps floor(coord/size) well inside int64 so neighbour
// offsets of ±1 cannot overflow. Finite points beyond it saturate.
const maxCellIndex = 1 << 62

// VoxelKey is the integer cell index floor(coordinate/size) on each axis.
type VoxelKey struct {
	X, Y, Z int64
}

// Offset returns the key shifted by the given number of cells.
func (k VoxelKey) Offset(dx, dy, dz int64) VoxelKey {
	return VoxelKey{k.X + dx, k.Y + dy, k.Z + dz}
}

// KeyOf quantises p with the given cell size. ok is false for points with
// non-finite coordinates, which belong to no voxel.
func KeyOf(p r3.Vec, size float64) (key VoxelKey, ok bool) {
	x, okX := cellIndex(p.X, size)
	y, okY := cellIndex(p.Y, size)
	z, okZ := cellIndex(p.Z, size)
	if !okX || !okY || !okZ {
		return VoxelKey{}, false
	}
	return VoxelKey{x, y, z}, true
}

func cellIndex(v, size float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	c := math.Floor(v / size)
	switch {
	case c >= maxCellIndex:
		return maxCellIndex, true
	case c <= -maxCellIndex:
		return -maxCellIndex, true
	}
	return int64(c), true
}

// ValidateVoxelSize reports whether size is usable as a cell edge length.
func ValidateVoxelSize(size float64) error {
	if !(size >= MinCellSize) || math.IsInf(size, 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidVoxelSize, size)
	}
	return nil
}

// OccupancyGrid counts points per voxel.
type OccupancyGrid struct {
	size   float64
	counts map[VoxelKey]int
}

// NewOccupancyGrid creates an empty grid with the given voxel edge length.
func NewOccupancyGrid(voxelSize float64) (*OccupancyGrid, error) {
	if err := ValidateVoxelSize(voxelSize); err != nil {
		return nil, err
	}
	return &OccupancyGrid{size: voxelSize, counts: make(map[VoxelKey]int)}, nil
}

// VoxelSize returns the grid's cell edge length.
func (g *OccupancyGrid) VoxelSize() float64 { return g.size }

// Add counts every point that falls in a voxel.
func (g *OccupancyGrid) Add(points []r3.Vec) {
	for _, p := range points {
		if k, ok := KeyOf(p, g.size); ok {
			g.counts[k]++
		}
	}
}

// Count returns the number of points counted in k.
func (g *OccupancyGrid) Count(k VoxelKey) int { return g.counts[k] }

// Occupied reports whether at least one point fell in k.
func (g *OccupancyGrid) Occupied(k VoxelKey) bool { return g.counts[k] > 0 }

// Len returns the number of occupied voxels.
func (g *OccupancyGrid) Len() int { return len(g.counts) }
