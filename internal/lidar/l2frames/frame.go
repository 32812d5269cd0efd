package l2frames

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointCloudFrame is one captured cloud: ordered points (duplicates allowed),
// the coordinate frame they are expressed in, and the capture time.
//
// A frame is immutable once handed downstream. Stages that derive new point
// sets build new frames with WithPoints rather than editing Points.
type PointCloudFrame struct {
	Sequence  uint32    // sender sequence number, 0 when not transported
	FrameID   string    // coordinate-frame identifier, e.g. "/lidar"
	Timestamp time.Time // capture time
	Points    []r3.Vec
}

// NewPointCloudFrame copies points into a new frame.
func NewPointCloudFrame(frameID string, ts time.Time, points []r3.Vec) *PointCloudFrame {
	return &PointCloudFrame{
		FrameID:   frameID,
		Timestamp: ts,
		Points:    append([]r3.Vec(nil), points...),
	}
}

// Len returns the number of points, treating a nil frame as empty.
func (f *PointCloudFrame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Points)
}

// WithPoints returns a new frame tagged with f's identity and timestamp but
// holding points. The slice is taken as-is and must not be modified afterwards.
func (f *PointCloudFrame) WithPoints(points []r3.Vec) *PointCloudFrame {
	return &PointCloudFrame{
		Sequence:  f.Sequence,
		FrameID:   f.FrameID,
		Timestamp: f.Timestamp,
		Points:    points,
	}
}

// Clone returns a deep copy of f.
func (f *PointCloudFrame) Clone() *PointCloudFrame {
	if f == nil {
		return nil
	}
	c := f.WithPoints(append([]r3.Vec(nil), f.Points...))
	return c
}
