package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cloudmotion/internal/config"
	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l4perception"
	"github.com/banshee-data/cloudmotion/internal/lidar/l5tracks"
)

// DetectionConfig holds the dependencies of a VehicleDetector.
type DetectionConfig struct {
	ParentFrame         string
	ChildFrame          string
	Extract             l4perception.ExtractParams
	AssociationDistance float64
	VelocityReference   string // config.VelocityReferenceSensor (default) or config.VelocityReferenceAbsolute

	Poses     PoseSource          // required
	Observers []DetectionObserver // optional: visualiser, recorder
	Metrics   *Metrics            // optional
}

// VehicleDetector is the detection/tracking pipeline. It keeps only the
// previous frame's centroids. It is not safe for concurrent use.
type VehicleDetector struct {
	cfg  DetectionConfig
	prev l5tracks.CentroidSet
}

// NewVehicleDetector validates cfg and returns a detector with no previous
// centroids.
func NewVehicleDetector(cfg DetectionConfig) (*VehicleDetector, error) {
	if isNilInterface(cfg.Poses) {
		return nil, errors.New("vehicle detector: pose source is required")
	}
	if cfg.ParentFrame == "" {
		return nil, errors.New("vehicle detector: parent frame is required")
	}
	if err := cfg.Extract.Validate(); err != nil {
		return nil, fmt.Errorf("vehicle detector: %w", err)
	}
	if !(cfg.AssociationDistance >= 0) {
		return nil, fmt.Errorf("vehicle detector: %w", l5tracks.ErrInvalidAssociationDistance)
	}
	switch cfg.VelocityReference {
	case "":
		cfg.VelocityReference = config.VelocityReferenceSensor
	case config.VelocityReferenceSensor, config.VelocityReferenceAbsolute:
	default:
		return nil, fmt.Errorf("vehicle detector: unknown velocity reference %q", cfg.VelocityReference)
	}
	return &VehicleDetector{cfg: cfg}, nil
}

// Name identifies the pipeline in logs and metrics.
func (v *VehicleDetector) Name() string { return pipelineDetection }

// Previous returns the buffered centroids of the last processed frame.
func (v *VehicleDetector) Previous() l5tracks.CentroidSet { return v.prev }

// Process runs one cycle.
func (v *VehicleDetector) Process(ctx context.Context, frame *l2frames.PointCloudFrame) {
	if frame == nil {
		return
	}
	res := v.step(ctx, frame)

	v.cfg.Metrics.frameProcessed(pipelineDetection)
	v.cfg.Metrics.clusters(len(res.Clusters))
	if res.Skipped != SkipNone {
		v.cfg.Metrics.cycleSkipped(pipelineDetection, res.Skipped)
	} else {
		matched := res.Matched()
		v.cfg.Metrics.associations(matched, len(res.Velocities)-matched)
	}
	for _, o := range v.cfg.Observers {
		if !isNilInterface(o) {
			o.ObserveDetection(res)
		}
	}
}

// step computes a cycle result. The buffered previous centroids are
// replaced by this frame's (uncompensated) centroids on every path.
func (v *VehicleDetector) step(ctx context.Context, frame *l2frames.PointCloudFrame) DetectionResult {
	start := time.Now()
	frameID := frame.FrameID
	if frameID == "" {
		frameID = v.cfg.ChildFrame
	}
	res := DetectionResult{Frame: frame, FrameID: frameID, Reference: v.cfg.VelocityReference}
	timer := v.cfg.Metrics.startStage(pipelineDetection, frameID)

	clusters, err := l4perception.Extract(frame.Points, v.cfg.Extract)
	timer.done("cluster")
	if err != nil {
		// Parameters are validated at construction, so this is unexpected.
		opsf("[detection] clustering failed for frame %s: %v", frameID, err)
		res.Skipped, res.Err = SkipStageError, err
	}
	res.Clusters = clusters
	res.Centroids = l4perception.Centroids(clusters)
	res.Velocities = l5tracks.AllUndefined(len(clusters))

	defer func() {
		v.prev = l5tracks.CentroidSet{FrameID: frameID, Timestamp: frame.Timestamp, Centroids: res.Centroids}
	}()

	if err != nil {
		res.Duration = time.Since(start)
		return res
	}
	if v.prev.Empty() {
		res.Skipped = SkipNoPrevious
		res.Duration = time.Since(start)
		diagf("[detection] frame %s: %d clusters, no previous centroids", frameID, len(clusters))
		return res
	}

	err = v.associate(ctx, frameID, frame, &res, &timer)
	res.Duration = time.Since(start)
	if err != nil {
		res.Skipped, res.Err = skipReasonFor(err), err
		res.Velocities = l5tracks.AllUndefined(len(clusters))
		opsf("[detection] frame %s: velocities undefined this cycle: %v", frameID, err)
		return res
	}
	diagf("[detection] frame %s: clusters=%d matched=%d dt=%.3fs in %v",
		frameID, len(clusters), res.Matched(), res.Interval, res.Duration)
	return res
}

func (v *VehicleDetector) associate(ctx context.Context, frameID string, frame *l2frames.PointCloudFrame, res *DetectionResult, timer *stageTimer) error {
	prevPose, err := v.cfg.Poses.Lookup(ctx, v.cfg.ParentFrame, v.prev.FrameID, v.prev.Timestamp)
	if err != nil {
		return err
	}
	currPose, err := v.cfg.Poses.Lookup(ctx, v.cfg.ParentFrame, frameID, frame.Timestamp)
	if err != nil {
		return err
	}
	timer.done("pose_lookup")

	dt, err := egomotion.Interval(v.prev.Timestamp, frame.Timestamp)
	if err != nil {
		return err
	}
	res.Interval = dt

	compensated, err := egomotion.Compensate(prevPose, currPose, v.prev.Centroids)
	if err != nil {
		return err
	}
	res.PreviousCompensated = compensated
	timer.done("compensate")

	if ego, err := egomotion.EgoVelocity(prevPose, currPose); err == nil {
		res.EgoVelocity, res.EgoDefined = ego, true
	}

	velocities, err := l5tracks.Associate(res.Centroids, compensated, v.cfg.AssociationDistance, dt)
	if err != nil {
		return err
	}
	timer.done("associate")

	if v.cfg.VelocityReference == config.VelocityReferenceAbsolute && res.EgoDefined {
		velocities = l5tracks.ToAbsolute(velocities, res.EgoVelocity)
	}
	res.Velocities = velocities
	return nil
}
