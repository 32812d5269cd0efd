package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/config"
	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l3grid"
	"github.com/banshee-data/cloudmotion/internal/lidar/l4perception"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakePoses serves identity poses unless a translation or a one-shot
// failure is registered for a timestamp.
type fakePoses struct {
	mu      sync.Mutex
	origins map[int64]r3.Vec
	fail    map[int64]error
	lookups int
}

func newFakePoses() *fakePoses {
	return &fakePoses{origins: map[int64]r3.Vec{}, fail: map[int64]error{}}
}

func (f *fakePoses) at(ts time.Time, origin r3.Vec) { f.origins[ts.UnixNano()] = origin }
func (f *fakePoses) failAt(ts time.Time)            { f.fail[ts.UnixNano()] = egomotion.ErrPoseUnavailable }

func (f *fakePoses) Lookup(_ context.Context, parent, child string, ts time.Time) (egomotion.StampedPose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if err, ok := f.fail[ts.UnixNano()]; ok {
		delete(f.fail, ts.UnixNano())
		return egomotion.StampedPose{}, fmt.Errorf("lookup %s->%s: %w", parent, child, err)
	}
	return egomotion.StampedPose{
		ParentFrame: parent,
		ChildFrame:  child,
		Timestamp:   ts,
		Translation: f.origins[ts.UnixNano()],
		Rotation:    egomotion.IdentityRotation,
	}, nil
}

type cloudRecorder struct {
	frames []*l2frames.PointCloudFrame
}

func (c *cloudRecorder) SendCloud(f *l2frames.PointCloudFrame) { c.frames = append(c.frames, f) }

type resultRecorder struct {
	dynamic   []DynamicResult
	detection []DetectionResult
}

func (r *resultRecorder) ObserveDynamic(res DynamicResult)     { r.dynamic = append(r.dynamic, res) }
func (r *resultRecorder) ObserveDetection(res DetectionResult) { r.detection = append(r.detection, res) }

func frameAt(offset time.Duration, points ...r3.Vec) *l2frames.PointCloudFrame {
	return l2frames.NewPointCloudFrame("/lidar", t0.Add(offset), points)
}

// object returns a tight 4-point blob centred near c.
func object(c r3.Vec) []r3.Vec {
	return []r3.Vec{
		r3.Add(c, r3.Vec{X: -0.05}),
		r3.Add(c, r3.Vec{X: 0.05}),
		r3.Add(c, r3.Vec{Y: -0.05}),
		r3.Add(c, r3.Vec{Y: 0.05}),
	}
}

func newTestDynamic(t *testing.T, poses PoseSource, metrics *Metrics) (*DynamicExtractor, *cloudRecorder, *resultRecorder) {
	t.Helper()
	sink := &cloudRecorder{}
	obs := &resultRecorder{}
	d, err := NewDynamicExtractor(DynamicConfig{
		ParentFrame: "/odom",
		ChildFrame:  "/lidar",
		Change:      l3grid.ChangeParams{VoxelSize: 1},
		Poses:       poses,
		Output:      sink,
		Observers:   []DynamicObserver{obs},
		Metrics:     metrics,
	})
	require.NoError(t, err)
	return d, sink, obs
}

func TestDynamicExtractor_FirstFrameBuffersOnly(t *testing.T) {
	poses := newFakePoses()
	d, sink, obs := newTestDynamic(t, poses, nil)
	assert.Equal(t, AwaitingFirstFrame, d.State())

	d.Process(context.Background(), frameAt(0, r3.Vec{X: 1}))

	assert.Equal(t, SteadyState, d.State())
	assert.Empty(t, sink.frames)
	require.Len(t, obs.dynamic, 1)
	assert.Equal(t, SkipFirstFrame, obs.dynamic[0].Skipped)
	assert.Zero(t, poses.lookups, "first frame needs no pose")
}

func TestDynamicExtractor_EmitsNewPoints(t *testing.T) {
	d, sink, obs := newTestDynamic(t, newFakePoses(), nil)
	ctx := context.Background()

	static := []r3.Vec{{X: 0.2}, {X: 0.4, Y: 0.3}}
	d.Process(ctx, frameAt(0, static...))
	d.Process(ctx, frameAt(100*time.Millisecond, append(static, r3.Vec{X: 5}, r3.Vec{X: 5.1})...))

	require.Len(t, sink.frames, 1)
	got := sink.frames[0]
	assert.Equal(t, []r3.Vec{{X: 5}, {X: 5.1}}, got.Points)
	assert.Equal(t, "/lidar", got.FrameID)
	assert.Equal(t, t0.Add(100*time.Millisecond), got.Timestamp)

	res := obs.dynamic[1]
	assert.Equal(t, SkipNone, res.Skipped)
	assert.Equal(t, 2, res.StaticCount)
	assert.Equal(t, res.Frame.Len(), res.Dynamic.Len()+res.StaticCount)
}

func TestDynamicExtractor_CompensatesEgoMotion(t *testing.T) {
	poses := newFakePoses()
	poses.at(t0, r3.Vec{})
	poses.at(t0.Add(time.Second), r3.Vec{X: 2})
	d, sink, _ := newTestDynamic(t, poses, nil)
	ctx := context.Background()

	// A static wall 5 m ahead, then 3 m ahead after the sensor moved 2 m.
	d.Process(ctx, frameAt(0, r3.Vec{X: 5.5}, r3.Vec{X: 5.5, Y: 0.5}))
	d.Process(ctx, frameAt(time.Second, r3.Vec{X: 3.5}, r3.Vec{X: 3.5, Y: 0.5}))

	require.Len(t, sink.frames, 1)
	assert.Empty(t, sink.frames[0].Points, "static scene must produce no dynamic points")
}

func TestDynamicExtractor_PoseFailureSkipsAndReplacesPrevious(t *testing.T) {
	poses := newFakePoses()
	poses.failAt(t0.Add(100 * time.Millisecond))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	d, sink, obs := newTestDynamic(t, poses, metrics)
	ctx := context.Background()

	d.Process(ctx, frameAt(0, r3.Vec{X: 0.5}))
	d.Process(ctx, frameAt(100*time.Millisecond, r3.Vec{X: 7.5}))
	assert.Empty(t, sink.frames)
	require.Len(t, obs.dynamic, 2)
	assert.Equal(t, SkipPoseUnavailable, obs.dynamic[1].Skipped)
	assert.ErrorIs(t, obs.dynamic[1].Err, egomotion.ErrPoseUnavailable)

	// The failed frame became the reference: 7.5 is now static.
	d.Process(ctx, frameAt(200*time.Millisecond, r3.Vec{X: 7.5}, r3.Vec{X: 0.5}))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, []r3.Vec{{X: 0.5}}, sink.frames[0].Points)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.FramesProcessed.WithLabelValues(pipelineDynamic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CyclesSkipped.WithLabelValues(pipelineDynamic, string(SkipPoseUnavailable))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CyclesSkipped.WithLabelValues(pipelineDynamic, string(SkipFirstFrame))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DynamicPoints))
}

func TestDynamicExtractor_DoesNotMutateFrames(t *testing.T) {
	poses := newFakePoses()
	poses.at(t0.Add(time.Second), r3.Vec{X: 1, Y: 2})
	d, _, _ := newTestDynamic(t, poses, nil)

	first := frameAt(0, r3.Vec{X: 1}, r3.Vec{Y: 1})
	snapshot := first.Clone()
	d.Process(context.Background(), first)
	d.Process(context.Background(), frameAt(time.Second, r3.Vec{X: 3}))
	assert.Equal(t, snapshot, first)
}

func TestPipelines_UnnamedFramesUseChildFrame(t *testing.T) {
	d, sink, dynObs := newTestDynamic(t, newFakePoses(), nil)
	v, detObs := newTestDetector(t, newFakePoses(), "", nil)
	ctx := context.Background()

	for i, pts := range [][]r3.Vec{object(r3.Vec{X: 10}), object(r3.Vec{X: 12})} {
		f := l2frames.NewPointCloudFrame("", t0.Add(time.Duration(i)*100*time.Millisecond), pts)
		d.Process(ctx, f)
		v.Process(ctx, f)
	}

	require.Len(t, dynObs.dynamic, 2)
	for _, res := range dynObs.dynamic {
		assert.Equal(t, "/lidar", res.FrameID)
		assert.Equal(t, "/lidar", res.ResolvedFrameID())
		assert.Empty(t, res.Frame.FrameID)
	}
	require.Len(t, sink.frames, 1)
	assert.Equal(t, "/lidar", sink.frames[0].FrameID)

	require.Len(t, detObs.detection, 2)
	for _, res := range detObs.detection {
		assert.Equal(t, "/lidar", res.ResolvedFrameID())
	}
	assert.Equal(t, SkipNone, detObs.detection[1].Skipped)
}

func TestResolvedFrameID(t *testing.T) {
	frame := frameAt(0)
	assert.Equal(t, "/lidar", DynamicResult{Frame: frame}.ResolvedFrameID())
	assert.Equal(t, "/base", DetectionResult{Frame: frame, FrameID: "/base"}.ResolvedFrameID())
	assert.Empty(t, DetectionResult{}.ResolvedFrameID())
}

func TestNewDynamicExtractor_Validation(t *testing.T) {
	_, err := NewDynamicExtractor(DynamicConfig{ParentFrame: "/odom", Change: l3grid.ChangeParams{VoxelSize: 1}})
	assert.Error(t, err, "missing pose source")

	var nilPoses *fakePoses
	_, err = NewDynamicExtractor(DynamicConfig{ParentFrame: "/odom", Change: l3grid.ChangeParams{VoxelSize: 1}, Poses: nilPoses})
	assert.Error(t, err, "typed nil pose source")

	_, err = NewDynamicExtractor(DynamicConfig{ParentFrame: "/odom", Poses: newFakePoses()})
	assert.ErrorIs(t, err, l3grid.ErrInvalidVoxelSize)
}

func newTestDetector(t *testing.T, poses PoseSource, reference string, metrics *Metrics) (*VehicleDetector, *resultRecorder) {
	t.Helper()
	obs := &resultRecorder{}
	v, err := NewVehicleDetector(DetectionConfig{
		ParentFrame:         "/odom",
		ChildFrame:          "/lidar",
		Extract:             l4perception.ExtractParams{Tolerance: 0.2, MinClusterSize: 3},
		AssociationDistance: 1.5,
		VelocityReference:   reference,
		Poses:               poses,
		Observers:           []DetectionObserver{obs},
		Metrics:             metrics,
	})
	require.NoError(t, err)
	return v, obs
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestVehicleDetector_FirstFrameUndefined(t *testing.T) {
	poses := newFakePoses()
	v, obs := newTestDetector(t, poses, "", nil)

	v.Process(context.Background(), frameAt(0, object(r3.Vec{X: 10})...))

	require.Len(t, obs.detection, 1)
	res := obs.detection[0]
	assert.Equal(t, SkipNoPrevious, res.Skipped)
	require.Len(t, res.Clusters, 1)
	require.Len(t, res.Velocities, 1)
	assert.False(t, res.Velocities[0].Defined)
	assert.Zero(t, poses.lookups)
	assert.Equal(t, 1, v.Previous().Len())
}

func TestVehicleDetector_EstimatesVelocity(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	v, obs := newTestDetector(t, newFakePoses(), config.VelocityReferenceSensor, metrics)
	ctx := context.Background()

	v.Process(ctx, frameAt(0, append(object(r3.Vec{X: 10}), object(r3.Vec{Y: 20})...)...))
	v.Process(ctx, frameAt(500*time.Millisecond, append(object(r3.Vec{X: 10.5}), object(r3.Vec{X: 40})...)...))

	res := obs.detection[1]
	require.Equal(t, SkipNone, res.Skipped)
	require.Len(t, res.Velocities, 2)
	assert.True(t, res.Velocities[0].Defined)
	if diff := cmp.Diff(r3.Vec{X: 1}, res.Velocities[0].Velocity, approx); diff != "" {
		t.Errorf("velocity (-want +got):\n%s", diff)
	}
	assert.False(t, res.Velocities[1].Defined, "object far from any previous centroid")
	assert.InDelta(t, 0.5, res.Interval, 1e-12)
	assert.True(t, res.EgoDefined)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Associations.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Associations.WithLabelValues("unmatched")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Clusters))
}

func TestVehicleDetector_VelocityReference(t *testing.T) {
	for _, tt := range []struct {
		reference string
		want      r3.Vec
	}{
		// Sensor moves +1 m/s in X past a static object. Compensation
		// cancels the sensor's own motion; the absolute option adds the
		// ego velocity on top.
		{config.VelocityReferenceSensor, r3.Vec{}},
		{config.VelocityReferenceAbsolute, r3.Vec{X: 1}},
	} {
		t.Run(tt.reference, func(t *testing.T) {
			poses := newFakePoses()
			poses.at(t0, r3.Vec{})
			poses.at(t0.Add(time.Second), r3.Vec{X: 1})
			v, obs := newTestDetector(t, poses, tt.reference, nil)
			ctx := context.Background()

			v.Process(ctx, frameAt(0, object(r3.Vec{X: 10})...))
			v.Process(ctx, frameAt(time.Second, object(r3.Vec{X: 9})...))

			res := obs.detection[1]
			require.True(t, res.Velocities[0].Defined)
			if diff := cmp.Diff(tt.want, res.Velocities[0].Velocity, approx); diff != "" {
				t.Errorf("velocity (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(r3.Vec{X: 1}, res.EgoVelocity, approx); diff != "" {
				t.Errorf("ego velocity (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.reference, res.Reference)
		})
	}
}

func TestVehicleDetector_RecoverableFailures(t *testing.T) {
	t.Run("pose unavailable", func(t *testing.T) {
		poses := newFakePoses()
		poses.failAt(t0.Add(time.Second))
		v, obs := newTestDetector(t, poses, "", nil)
		ctx := context.Background()

		v.Process(ctx, frameAt(0, object(r3.Vec{X: 10})...))
		v.Process(ctx, frameAt(time.Second, object(r3.Vec{X: 10.2})...))
		v.Process(ctx, frameAt(2*time.Second, object(r3.Vec{X: 10.4})...))

		assert.Equal(t, SkipPoseUnavailable, obs.detection[1].Skipped)
		assert.False(t, obs.detection[1].Velocities[0].Defined)

		// Third frame associates against the second frame's centroids.
		res := obs.detection[2]
		require.Equal(t, SkipNone, res.Skipped)
		if diff := cmp.Diff(r3.Vec{X: 0.2}, res.Velocities[0].Velocity, approx); diff != "" {
			t.Errorf("velocity (-want +got):\n%s", diff)
		}
	})

	t.Run("non-positive interval", func(t *testing.T) {
		v, obs := newTestDetector(t, newFakePoses(), "", nil)
		ctx := context.Background()

		v.Process(ctx, frameAt(0, object(r3.Vec{X: 10})...))
		v.Process(ctx, frameAt(0, object(r3.Vec{X: 10.1})...))

		res := obs.detection[1]
		assert.Equal(t, SkipNonPositiveInterval, res.Skipped)
		assert.ErrorIs(t, res.Err, egomotion.ErrNonPositiveInterval)
		require.Len(t, res.Velocities, 1)
		assert.False(t, res.Velocities[0].Defined)
	})

	t.Run("empty frame", func(t *testing.T) {
		v, obs := newTestDetector(t, newFakePoses(), "", nil)
		v.Process(context.Background(), frameAt(0))
		assert.Empty(t, obs.detection[0].Clusters)
		assert.True(t, v.Previous().Empty())
	})
}

func TestNewVehicleDetector_Validation(t *testing.T) {
	base := DetectionConfig{
		ParentFrame: "/odom",
		Extract:     l4perception.ExtractParams{Tolerance: 0.1, MinClusterSize: 1},
		Poses:       newFakePoses(),
	}
	_, err := NewVehicleDetector(base)
	require.NoError(t, err)

	bad := base
	bad.VelocityReference = "world"
	_, err = NewVehicleDetector(bad)
	assert.Error(t, err)

	bad = base
	bad.AssociationDistance = -1
	_, err = NewVehicleDetector(bad)
	assert.Error(t, err)

	bad = base
	bad.Extract.Tolerance = 0
	_, err = NewVehicleDetector(bad)
	assert.ErrorIs(t, err, l4perception.ErrInvalidTolerance)
}
