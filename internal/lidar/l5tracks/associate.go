package l5tracks

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
)

var (
	// ErrNonPositiveInterval is returned when dt <= 0. It is the same
	// sentinel egomotion uses for pose intervals.
	ErrNonPositiveInterval = egomotion.ErrNonPositiveInterval

	ErrInvalidAssociationDistance = errors.New("association distance must be >= 0")
)

// Associate matches every current centroid against the compensated previous
// centroids and returns one estimate per current centroid, in order.
//
// Each current centroid takes the nearest previous centroid within
// associationDistance (inclusive); ties go to the lowest previous index.
// Velocity is (curr - prev) / dt. Several current centroids may share one
// previous centroid. Centroids without a match, or with non-finite
// coordinates, get the Undefined sentinel.
//
// dt <= 0 is rejected with ErrNonPositiveInterval and no estimates.
func Associate(curr, prevCompensated []r3.Vec, associationDistance, dt float64) ([]VelocityEstimate, error) {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return nil, fmt.Errorf("%w: dt=%v", ErrNonPositiveInterval, dt)
	}
	if !(associationDistance >= 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAssociationDistance, associationDistance)
	}

	out := AllUndefined(len(curr))

	entries := make(indexedPoints, 0, len(prevCompensated))
	for i, p := range prevCompensated {
		if finite(p) {
			entries = append(entries, indexedPoint{Vec: p, index: i})
		}
	}
	if len(entries) == 0 || len(curr) == 0 {
		return out, nil
	}
	tree := kdtree.New(entries, false)
	radius2 := associationDistance * associationDistance

	for i, c := range curr {
		if !finite(c) {
			continue
		}
		keep := kdtree.NewDistKeeper(radius2)
		tree.NearestSet(keep, indexedPoint{Vec: c, index: -1})

		best, bestDist := -1, math.Inf(1)
		for _, cd := range keep.Heap {
			if cd.Comparable == nil {
				continue
			}
			idx := cd.Comparable.(indexedPoint).index
			if cd.Dist < bestDist || (cd.Dist == bestDist && idx < best) {
				best, bestDist = idx, cd.Dist
			}
		}
		if best < 0 {
			continue
		}
		v := r3.Scale(1/dt, r3.Sub(c, prevCompensated[best]))
		if !finite(v) {
			continue
		}
		out[i] = VelocityEstimate{Velocity: v, Defined: true, Match: best}
	}
	return out, nil
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
