package egomotion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrPoseUnavailable is returned when no pose exists for the requested
	// frame pair at the requested time, including lookup timeouts.
	ErrPoseUnavailable = errors.New("pose unavailable")

	// ErrInvalidPose is returned for poses with non-finite components or a
	// degenerate (zero-norm) rotation.
	ErrInvalidPose = errors.New("invalid pose")

	// ErrNonPositiveInterval is returned when two stamps are not strictly
	// increasing, so a rate cannot be computed.
	ErrNonPositiveInterval = errors.New("non-positive interval")
)

// MinQuaternionNorm is the smallest rotation norm accepted before
// normalisation; anything shorter is treated as degenerate.
const MinQuaternionNorm = 1e-9

// StampedPose is the pose of ChildFrame expressed in ParentFrame at Timestamp.
// Rotation is a unit quaternion with Real holding the scalar part.
type StampedPose struct {
	ParentFrame string
	ChildFrame  string
	Timestamp   time.Time
	Translation r3.Vec
	Rotation    quat.Number
}

// IdentityRotation is the unit quaternion with no rotation.
var IdentityRotation = quat.Number{Real: 1}

// NewStampedPose builds a pose with a normalised rotation.
func NewStampedPose(parent, child string, ts time.Time, translation r3.Vec, rotation quat.Number) (StampedPose, error) {
	p := StampedPose{
		ParentFrame: parent,
		ChildFrame:  child,
		Timestamp:   ts,
		Translation: translation,
		Rotation:    rotation,
	}
	if err := ValidatePose(p); err != nil {
		return StampedPose{}, err
	}
	p.Rotation, _ = Normalize(rotation)
	return p, nil
}

// YawRotation returns the unit quaternion rotating by yaw radians about +Z.
func YawRotation(yaw float64) quat.Number {
	return quat.Number(r3.NewRotation(yaw, r3.Vec{Z: 1}))
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) (quat.Number, error) {
	n := quat.Abs(q)
	if !(n > MinQuaternionNorm) || math.IsInf(n, 0) {
		return quat.Number{}, fmt.Errorf("%w: rotation norm %g", ErrInvalidPose, n)
	}
	return quat.Scale(1/n, q), nil
}

// ValidatePose checks that a pose has finite components and a usable rotation.
func ValidatePose(p StampedPose) error {
	if !isFiniteVec(p.Translation) {
		return fmt.Errorf("%w: non-finite translation %v", ErrInvalidPose, p.Translation)
	}
	if quat.IsNaN(p.Rotation) || quat.IsInf(p.Rotation) {
		return fmt.Errorf("%w: non-finite rotation %v", ErrInvalidPose, p.Rotation)
	}
	if _, err := Normalize(p.Rotation); err != nil {
		return err
	}
	return nil
}

// Interval returns the time from prev to curr in seconds, or
// ErrNonPositiveInterval when curr is not strictly after prev.
func Interval(prev, curr time.Time) (float64, error) {
	dt := curr.Sub(prev).Seconds()
	if !(dt > 0) {
		return 0, fmt.Errorf("%w: dt=%gs", ErrNonPositiveInterval, dt)
	}
	return dt, nil
}

// Interpolate returns the pose at ts between a and b, using linear
// interpolation for translation and spherical interpolation for rotation.
// ts outside [a, b] is extrapolated on the translation and clamped on the
// rotation. Frame identifiers are taken from a.
func Interpolate(a, b StampedPose, ts time.Time) StampedPose {
	out := a
	out.Timestamp = ts
	span := b.Timestamp.Sub(a.Timestamp)
	if span <= 0 {
		return out
	}
	f := float64(ts.Sub(a.Timestamp)) / float64(span)
	out.Translation = r3.Add(a.Translation, r3.Scale(f, r3.Sub(b.Translation, a.Translation)))
	out.Rotation = Slerp(a.Rotation, b.Rotation, math.Max(0, math.Min(1, f)))
	return out
}

// Slerp spherically interpolates between unit quaternions a and b along
// the shorter arc. f=0 yields a and f=1 yields b.
func Slerp(a, b quat.Number, f float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	var q quat.Number
	if dot > 1-1e-9 {
		// Nearly parallel: fall back to normalised lerp.
		q = quat.Add(quat.Scale(1-f, a), quat.Scale(f, b))
	} else {
		delta := quat.Mul(quat.Conj(a), b)
		q = quat.Mul(a, quat.Pow(delta, quat.Number{Real: f}))
	}
	if n, err := Normalize(q); err == nil {
		return n
	}
	return a
}

func isFiniteVec(v r3.Vec) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
