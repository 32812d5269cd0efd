package l5tracks

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// CentroidSet is the ordered cluster centroids of one frame.
type CentroidSet struct {
	FrameID   string
	Timestamp time.Time
	Centroids []r3.Vec
}

// Len returns the number of centroids.
func (s CentroidSet) Len() int { return len(s.Centroids) }

// Empty reports whether the set holds no centroids.
func (s CentroidSet) Empty() bool { return len(s.Centroids) == 0 }

// VelocityEstimate is the velocity of one current centroid, or undefined
// when no previous centroid was associated with it. Velocity is only
// meaningful when Defined is true; consumers must check before using it.
type VelocityEstimate struct {
	Velocity r3.Vec // m/s in the current sensor frame
	Defined  bool
	Match    int // index into the previous centroids, -1 when undefined
}

// Undefined is the sentinel for an unmatched centroid.
var Undefined = VelocityEstimate{Match: -1}

// Speed returns the velocity magnitude and whether it is defined.
func (v VelocityEstimate) Speed() (float64, bool) {
	if !v.Defined {
		return 0, false
	}
	return r3.Norm(v.Velocity), true
}

// AllUndefined returns n undefined estimates.
func AllUndefined(n int) []VelocityEstimate {
	out := make([]VelocityEstimate, n)
	for i := range out {
		out[i] = Undefined
	}
	return out
}

// ToAbsolute adds the sensor's ego velocity to every defined estimate,
// converting sensor-relative velocities into parent-frame-rate velocities
// expressed in the current sensor axes. Undefined estimates stay undefined.
func ToAbsolute(estimates []VelocityEstimate, ego r3.Vec) []VelocityEstimate {
	out := make([]VelocityEstimate, len(estimates))
	for i, e := range estimates {
		if e.Defined {
			e.Velocity = r3.Add(e.Velocity, ego)
		}
		out[i] = e
	}
	return out
}
