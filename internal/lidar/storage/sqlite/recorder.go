package sqlite

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
)

// DefaultRecorderQueue is the number of cycles buffered ahead of the writer.
const DefaultRecorderQueue = 256

// Recorder writes pipeline results for one run. It implements
// pipeline.DynamicObserver and pipeline.DetectionObserver; observing never
// blocks, and cycles are dropped and counted when the writer falls behind.
type Recorder struct {
	db    *DB
	runID string
	queue chan func(context.Context) error

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

var (
	_ pipeline.DynamicObserver   = (*Recorder)(nil)
	_ pipeline.DetectionObserver = (*Recorder)(nil)
)

// NewRecorder returns a recorder for runID. Call Start before observing.
func NewRecorder(db *DB, runID string, queueLen int) *Recorder {
	if queueLen <= 0 {
		queueLen = DefaultRecorderQueue
	}
	return &Recorder{
		db:    db,
		runID: runID,
		queue: make(chan func(context.Context) error, queueLen),
		done:  make(chan struct{}),
	}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Start runs the writer until Close. Queued cycles are flushed on Close.
func (r *Recorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for write := range r.queue {
			if err := write(ctx); err != nil {
				n := r.failed.Add(1)
				opsf("run %s: write failed (%d total): %v", r.runID, n, err)
				continue
			}
			r.written.Add(1)
		}
		diagf("run %s: writer stopped (written=%d dropped=%d failed=%d)",
			r.runID, r.written.Load(), r.dropped.Load(), r.failed.Load())
	}()
}

// Close stops accepting cycles, waits for queued writes and returns.
// Observing after Close panics.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) enqueue(kind, frame string, write func(context.Context) error) {
	select {
	case r.queue <- write:
	default:
		n := r.dropped.Add(1)
		tracef("run %s: queue full, dropping %s cycle %s (total dropped: %d)", r.runID, kind, frame, n)
	}
}

// ObserveDynamic records a dynamic-extraction cycle.
func (r *Recorder) ObserveDynamic(res pipeline.DynamicResult) {
	if res.Frame == nil {
		return
	}
	c := DynamicCycle{
		RunID:         r.runID,
		FrameID:       res.ResolvedFrameID(),
		Timestamp:     res.Frame.Timestamp,
		TargetPoints:  res.Frame.Len(),
		SkippedReason: string(res.Skipped),
		Duration:      res.Duration,
	}
	if res.Dynamic != nil {
		dyn, stat := res.Dynamic.Len(), res.StaticCount
		c.DynamicPoints, c.StaticPoints = &dyn, &stat
	}
	r.enqueue("dynamic", c.FrameID, func(ctx context.Context) error {
		return r.db.InsertDynamicCycle(ctx, c)
	})
}

// ObserveDetection records a detection cycle and its velocity estimates.
func (r *Recorder) ObserveDetection(res pipeline.DetectionResult) {
	if res.Frame == nil {
		return
	}
	c := DetectionCycle{
		RunID:         r.runID,
		FrameID:       res.ResolvedFrameID(),
		Timestamp:     res.Frame.Timestamp,
		Interval:      res.Interval,
		Reference:     res.Reference,
		SkippedReason: string(res.Skipped),
		Duration:      res.Duration,
		Estimates:     make([]VelocityRow, len(res.Centroids)),
	}
	for i, centroid := range res.Centroids {
		row := VelocityRow{ClusterIndex: i, Centroid: centroid}
		if i < len(res.Clusters) {
			row.ClusterSize = res.Clusters[i].Size()
		}
		if i < len(res.Velocities) && res.Velocities[i].Defined {
			v := res.Velocities[i].Velocity
			row.Velocity = &v
		}
		c.Estimates[i] = row
	}
	r.enqueue("detection", c.FrameID, func(ctx context.Context) error {
		_, err := r.db.InsertDetectionCycle(ctx, c)
		return err
	})
}

// RecorderStats counts recorder outcomes.
type RecorderStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

// Stats returns recorder statistics.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
