package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l3grid"
)

// DynamicState is the state of a DynamicExtractor.
type DynamicState int

const (
	AwaitingFirstFrame DynamicState = iota
	SteadyState
)

func (s DynamicState) String() string {
	switch s {
	case AwaitingFirstFrame:
		return "AwaitingFirstFrame"
	case SteadyState:
		return "SteadyState"
	}
	return fmt.Sprintf("DynamicState(%d)", int(s))
}

// DynamicConfig holds the dependencies of a DynamicExtractor.
type DynamicConfig struct {
	ParentFrame string // pose parent frame, e.g. "/odom"
	ChildFrame  string // used for frames that carry no frame id
	Change      l3grid.ChangeParams

	Poses     PoseSource        // required
	Output    CloudSink         // optional: receives the dynamic subset
	Observers []DynamicObserver // optional: visualiser, recorder
	Metrics   *Metrics          // optional
}

// DynamicExtractor is the dynamic-extraction pipeline. It is not safe for
// concurrent use; drive it from a single goroutine.
type DynamicExtractor struct {
	cfg   DynamicConfig
	state DynamicState
	prev  *l2frames.PointCloudFrame
}

// NewDynamicExtractor validates cfg and returns an extractor awaiting its
// first frame.
func NewDynamicExtractor(cfg DynamicConfig) (*DynamicExtractor, error) {
	if isNilInterface(cfg.Poses) {
		return nil, errors.New("dynamic extractor: pose source is required")
	}
	if cfg.ParentFrame == "" {
		return nil, errors.New("dynamic extractor: parent frame is required")
	}
	if err := cfg.Change.Validate(); err != nil {
		return nil, fmt.Errorf("dynamic extractor: %w", err)
	}
	return &DynamicExtractor{cfg: cfg, state: AwaitingFirstFrame}, nil
}

// Name identifies the pipeline in logs and metrics.
func (d *DynamicExtractor) Name() string { return pipelineDynamic }

// State returns the current state.
func (d *DynamicExtractor) State() DynamicState { return d.state }

// Process runs one cycle.
func (d *DynamicExtractor) Process(ctx context.Context, frame *l2frames.PointCloudFrame) {
	if frame == nil {
		return
	}
	res := d.step(ctx, frame)

	d.cfg.Metrics.frameProcessed(pipelineDynamic)
	if res.Skipped != SkipNone {
		d.cfg.Metrics.cycleSkipped(pipelineDynamic, res.Skipped)
	}
	if res.Dynamic != nil {
		d.cfg.Metrics.dynamicPoints(res.Dynamic.Len())
		if !isNilInterface(d.cfg.Output) {
			d.cfg.Output.SendCloud(res.Dynamic)
		}
	}
	for _, o := range d.cfg.Observers {
		if !isNilInterface(o) {
			o.ObserveDynamic(res)
		}
	}
}

// step computes a cycle result and advances the state. The buffered
// previous frame is replaced by frame on every path.
func (d *DynamicExtractor) step(ctx context.Context, frame *l2frames.PointCloudFrame) DynamicResult {
	start := time.Now()
	res := DynamicResult{Frame: frame, FrameID: d.frameID(frame)}
	defer func() {
		d.prev = frame
		d.state = SteadyState
	}()

	if d.state == AwaitingFirstFrame {
		res.Skipped = SkipFirstFrame
		diagf("[dynamic] buffered first frame %s (%d points)", d.frameID(frame), frame.Len())
		return res
	}

	timer := d.cfg.Metrics.startStage(pipelineDynamic, d.frameID(frame))

	prevPose, err := d.cfg.Poses.Lookup(ctx, d.cfg.ParentFrame, d.frameID(d.prev), d.prev.Timestamp)
	if err == nil {
		var currPose egomotion.StampedPose
		currPose, err = d.cfg.Poses.Lookup(ctx, d.cfg.ParentFrame, d.frameID(frame), frame.Timestamp)
		if err == nil {
			timer.done("pose_lookup")
			res.CompensatedPrevious, err = egomotion.Compensate(prevPose, currPose, d.prev.Points)
			timer.done("compensate")
		}
	}
	if err != nil {
		res.Skipped, res.Err = skipReasonFor(err), err
		res.Duration = time.Since(start)
		opsf("[dynamic] skipping frame %s: %v", d.frameID(frame), err)
		return res
	}

	dynamic, static, err := l3grid.Partition(res.CompensatedPrevious, frame.Points, d.cfg.Change)
	timer.done("partition")
	if err != nil {
		res.Skipped, res.Err = SkipStageError, err
		res.Duration = time.Since(start)
		opsf("[dynamic] partition failed for frame %s: %v", d.frameID(frame), err)
		return res
	}
	res.Dynamic = frame.WithPoints(dynamic)
	res.Dynamic.FrameID = res.FrameID
	res.StaticCount = len(static)
	res.Duration = time.Since(start)

	diagf("[dynamic] frame %s: target=%d dynamic=%d static=%d in %v",
		d.frameID(frame), frame.Len(), len(dynamic), len(static), res.Duration)
	return res
}

func (d *DynamicExtractor) frameID(f *l2frames.PointCloudFrame) string {
	if f.FrameID != "" {
		return f.FrameID
	}
	return d.cfg.ChildFrame
}
