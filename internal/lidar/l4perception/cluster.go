package l4perception

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/l3grid"
)

var (
	ErrInvalidTolerance      = errors.New("cluster tolerance must be >= 1e-4")
	ErrInvalidMinClusterSize = errors.New("min cluster size must be >= 1")
	ErrInvalidMaxClusterSize = errors.New("max cluster size must be 0 or >= min cluster size")
)

// ExtractParams configures Euclidean cluster extraction.
type ExtractParams struct {
	Tolerance      float64 // adjacency distance in metres, >= l3grid.MinCellSize
	MinClusterSize int     // smallest component kept, >= 1
	MaxClusterSize int     // largest component kept; 0 means unbounded
}

// Validate checks the parameter invariants.
func (p ExtractParams) Validate() error {
	if !(p.Tolerance >= l3grid.MinCellSize) || math.IsInf(p.Tolerance, 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidTolerance, p.Tolerance)
	}
	if p.MinClusterSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMinClusterSize, p.MinClusterSize)
	}
	if p.MaxClusterSize != 0 && p.MaxClusterSize < p.MinClusterSize {
		return fmt.Errorf("%w: got %d (min %d)", ErrInvalidMaxClusterSize, p.MaxClusterSize, p.MinClusterSize)
	}
	return nil
}

// Cluster is one connected component of a frame. Indices and Points are an
// ordered subsequence of the input cloud. Clusters carry no identity across
// frames.
type Cluster struct {
	Indices   []int
	Points    []r3.Vec
	Centroid  r3.Vec // arithmetic mean of Points
	BoundsMin r3.Vec
	BoundsMax r3.Vec
}

// Size returns the number of member points.
func (c Cluster) Size() int { return len(c.Indices) }

// Extract groups cloud into connected components where two points are
// adjacent when their distance is <= Tolerance, keeping components whose
// size lies within [MinClusterSize, MaxClusterSize].
//
// Clusters are returned in discovery order: the component containing the
// lowest unvisited point index is found first. Empty or undersized input
// yields an empty result, not an error.
func Extract(cloud []r3.Vec, params ExtractParams) ([]Cluster, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(cloud) < params.MinClusterSize {
		return nil, nil
	}

	si := NewSpatialIndex(params.Tolerance)
	si.Build(cloud)

	visited := make([]bool, len(cloud))
	var clusters []Cluster
	var queue, neighbours []int

	for seed := range cloud {
		if visited[seed] || !si.Indexed(seed) {
			continue
		}
		visited[seed] = true
		queue = append(queue[:0], seed)

		for j := 0; j < len(queue); j++ {
			neighbours = si.RegionQuery(queue[j], params.Tolerance, neighbours[:0])
			for _, n := range neighbours {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		size := len(queue)
		if size < params.MinClusterSize || (params.MaxClusterSize > 0 && size > params.MaxClusterSize) {
			continue
		}
		indices := slices.Clone(queue)
		slices.Sort(indices)
		clusters = append(clusters, newCluster(cloud, indices))
	}
	return clusters, nil
}

func newCluster(cloud []r3.Vec, indices []int) Cluster {
	points := make([]r3.Vec, len(indices))
	var sum r3.Vec
	lo := cloud[indices[0]]
	hi := lo
	for i, idx := range indices {
		p := cloud[idx]
		points[i] = p
		sum = r3.Add(sum, p)
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return Cluster{
		Indices:   indices,
		Points:    points,
		Centroid:  r3.Scale(1/float64(len(points)), sum),
		BoundsMin: lo,
		BoundsMax: hi,
	}
}

// Centroid returns the arithmetic mean of points, or the zero vector for
// an empty slice.
func Centroid(points []r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range points {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(points)), sum)
}

// Centroids returns the centroid of each cluster in order.
func Centroids(clusters []Cluster) []r3.Vec {
	out := make([]r3.Vec, len(clusters))
	for i, c := range clusters {
		out[i] = c.Centroid
	}
	return out
}
