package egomotion

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform p' = Rotation·p + Translation.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// IdentityTransform leaves every point unchanged.
var IdentityTransform = Transform{Rotation: IdentityRotation}

// Apply transforms a single point.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// ApplyAll transforms every point into a newly allocated slice.
func (t Transform) ApplyAll(points []r3.Vec) []r3.Vec {
	if len(points) == 0 {
		return nil
	}
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// RelativeTransform returns the transform that maps points captured at prev
// into the sensor frame implied by curr. Both poses must share a parent frame.
//
// Rotation is normalize(q_prev · q_curr⁻¹). The parent-frame translation
// delta origin_prev − origin_curr is re-expressed in prev's local axes by
// conjugation, q_prev⁻¹ · Δ · q_prev.
func RelativeTransform(prev, curr StampedPose) (Transform, error) {
	if prev.ParentFrame != curr.ParentFrame {
		return Transform{}, fmt.Errorf("%w: parent frames differ (%q vs %q)",
			ErrInvalidPose, prev.ParentFrame, curr.ParentFrame)
	}
	qPrev, err := Normalize(prev.Rotation)
	if err != nil {
		return Transform{}, fmt.Errorf("previous pose: %w", err)
	}
	qCurr, err := Normalize(curr.Rotation)
	if err != nil {
		return Transform{}, fmt.Errorf("current pose: %w", err)
	}

	rel, err := Normalize(quat.Mul(qPrev, quat.Inv(qCurr)))
	if err != nil {
		return Transform{}, err
	}

	globalMove := r3.Sub(prev.Translation, curr.Translation)
	localMove := r3.Rotation(quat.Inv(qPrev)).Rotate(globalMove)

	return Transform{Rotation: rel, Translation: localMove}, nil
}

// Compensate expresses points captured at prev in the frame of curr.
// The input slice is never modified.
func Compensate(prev, curr StampedPose, points []r3.Vec) ([]r3.Vec, error) {
	t, err := RelativeTransform(prev, curr)
	if err != nil {
		return nil, err
	}
	return t.ApplyAll(points), nil
}

// EgoVelocity returns the sensor's own velocity between prev and curr,
// expressed in curr's local axes (m/s).
func EgoVelocity(prev, curr StampedPose) (r3.Vec, error) {
	dt, err := Interval(prev.Timestamp, curr.Timestamp)
	if err != nil {
		return r3.Vec{}, err
	}
	qCurr, err := Normalize(curr.Rotation)
	if err != nil {
		return r3.Vec{}, fmt.Errorf("current pose: %w", err)
	}
	selfMove := r3.Sub(curr.Translation, prev.Translation)
	local := r3.Rotation(quat.Inv(qCurr)).Rotate(selfMove)
	return r3.Scale(1/dt, local), nil
}
