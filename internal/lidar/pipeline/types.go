package pipeline

import (
	"context"
	"errors"
	"reflect"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l4perception"
	"github.com/banshee-data/cloudmotion/internal/lidar/l5tracks"
)

// PoseSource looks up the pose of child in parent at t. Implementations may
// block for a bounded time and must return an error wrapping
// egomotion.ErrPoseUnavailable when no pose can be produced.
type PoseSource interface {
	Lookup(ctx context.Context, parent, child string, t time.Time) (egomotion.StampedPose, error)
}

// CloudSink receives the dynamic subset of each frame. SendCloud must not
// block the pipeline.
type CloudSink interface {
	SendCloud(frame *l2frames.PointCloudFrame)
}

// DynamicObserver receives every dynamic-extraction cycle result,
// including skipped cycles. Observers must not block and must not modify
// the result.
type DynamicObserver interface {
	ObserveDynamic(res DynamicResult)
}

// DetectionObserver receives every detection cycle result. Observers must
// not block and must not modify the result.
type DetectionObserver interface {
	ObserveDetection(res DetectionResult)
}

// Processor consumes frames one at a time.
type Processor interface {
	Name() string
	Process(ctx context.Context, frame *l2frames.PointCloudFrame)
}

// SkipReason explains why a cycle produced no differencing output.
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipFirstFrame          SkipReason = "first_frame"
	SkipNoPrevious          SkipReason = "no_previous_centroids"
	SkipPoseUnavailable     SkipReason = "pose_unavailable"
	SkipInvalidPose         SkipReason = "invalid_pose"
	SkipNonPositiveInterval SkipReason = "non_positive_interval"
	SkipStageError          SkipReason = "stage_error"
)

// skipReasonFor maps a stage error to the reason reported for the cycle.
func skipReasonFor(err error) SkipReason {
	switch {
	case errors.Is(err, egomotion.ErrPoseUnavailable):
		return SkipPoseUnavailable
	case errors.Is(err, egomotion.ErrInvalidPose):
		return SkipInvalidPose
	case errors.Is(err, egomotion.ErrNonPositiveInterval):
		return SkipNonPositiveInterval
	default:
		return SkipStageError
	}
}

// DynamicResult is the outcome of one dynamic-extraction cycle.
type DynamicResult struct {
	Frame   *l2frames.PointCloudFrame // current input frame
	FrameID string                    // Frame.FrameID, or the child frame when that is empty

	// Populated only when the cycle was not skipped.
	CompensatedPrevious []r3.Vec
	Dynamic             *l2frames.PointCloudFrame
	StaticCount         int

	Skipped  SkipReason
	Err      error
	Duration time.Duration
}

// DetectionResult is the outcome of one detection cycle. Velocities has one
// entry per cluster, in cluster order.
type DetectionResult struct {
	Frame      *l2frames.PointCloudFrame
	FrameID    string // Frame.FrameID, or the child frame when that is empty
	Clusters   []l4perception.Cluster
	Centroids  []r3.Vec
	Velocities []l5tracks.VelocityEstimate

	// Populated only when association ran.
	PreviousCompensated []r3.Vec
	Interval            float64 // seconds between the previous and current frame
	EgoVelocity         r3.Vec  // diagnostic; m/s in the current sensor frame
	EgoDefined          bool
	Reference           string // velocity reference applied to Velocities

	Skipped  SkipReason
	Err      error
	Duration time.Duration
}

// ResolvedFrameID returns the frame id the cycle was processed under.
func (r DynamicResult) ResolvedFrameID() string {
	return resolvedFrameID(r.FrameID, r.Frame)
}

// ResolvedFrameID returns the frame id the cycle was processed under.
func (r DetectionResult) ResolvedFrameID() string {
	return resolvedFrameID(r.FrameID, r.Frame)
}

func resolvedFrameID(id string, frame *l2frames.PointCloudFrame) string {
	if id == "" && frame != nil {
		return frame.FrameID
	}
	return id
}

// Matched returns the number of defined velocities.
func (r DetectionResult) Matched() int {
	n := 0
	for _, v := range r.Velocities {
		if v.Defined {
			n++
		}
	}
	return n
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
