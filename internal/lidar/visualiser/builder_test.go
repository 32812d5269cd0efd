package visualiser

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/l4perception"
	"github.com/banshee-data/cloudmotion/internal/lidar/l5tracks"
	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
	"github.com/banshee-data/cloudmotion/internal/units"
)

var t0 = time.Unix(1700000000, 0)

func testFrame(id string, points ...r3.Vec) *l2frames.PointCloudFrame {
	return l2frames.NewPointCloudFrame(id, t0, points)
}

func TestDynamicScene(t *testing.T) {
	frame := testFrame("/lidar", r3.Vec{X: 1}, r3.Vec{X: 2}, r3.Vec{X: 9})

	t.Run("steady state", func(t *testing.T) {
		res := pipeline.DynamicResult{
			Frame:               frame,
			CompensatedPrevious: []r3.Vec{{X: 1}, {X: 2}},
			Dynamic:             frame.WithPoints([]r3.Vec{{X: 9}}),
			StaticCount:         2,
		}
		s := DynamicScene(res)
		assert.Equal(t, KindDynamic, s.Kind)
		assert.Equal(t, "/lidar", s.FrameID)
		require.Len(t, s.Layers, 3)

		cur, ok := s.Layer(LayerCurrent)
		require.True(t, ok)
		assert.Equal(t, Black, cur.Color)
		assert.Equal(t, 2.0, cur.PointSize)
		assert.Len(t, cur.Points, 3)

		prev, _ := s.Layer(LayerPrevious)
		assert.Equal(t, Blue, prev.Color)
		assert.Equal(t, 2.0, prev.PointSize)

		dyn, _ := s.Layer(LayerDynamic)
		assert.Equal(t, Red, dyn.Color)
		assert.Equal(t, 4.0, dyn.PointSize)
		assert.Equal(t, []r3.Vec{{X: 9}}, dyn.Points)
		assert.Equal(t, 6, s.PointCount())
	})

	t.Run("skipped cycle shows current cloud only", func(t *testing.T) {
		s := DynamicScene(pipeline.DynamicResult{Frame: frame, Skipped: pipeline.SkipFirstFrame})
		require.Len(t, s.Layers, 1)
		assert.Equal(t, LayerCurrent, s.Layers[0].Name)
		assert.Equal(t, "first_frame", s.Skipped)
	})
}

func TestDetectionScene(t *testing.T) {
	frame := testFrame("/lidar", r3.Vec{X: 0}, r3.Vec{X: 0.05}, r3.Vec{X: 5}, r3.Vec{X: 5.05}, r3.Vec{X: 10})
	clusters := []l4perception.Cluster{
		{Indices: []int{0, 1}, Points: []r3.Vec{{X: 0}, {X: 0.05}}, Centroid: r3.Vec{X: 0.025}},
		{Indices: []int{2, 3}, Points: []r3.Vec{{X: 5}, {X: 5.05}}, Centroid: r3.Vec{X: 5.025}},
		{Indices: []int{4}, Points: []r3.Vec{{X: 10}}, Centroid: r3.Vec{X: 10}},
	}
	res := pipeline.DetectionResult{
		Frame:     frame,
		Clusters:  clusters,
		Centroids: l4perception.Centroids(clusters),
		Velocities: []l5tracks.VelocityEstimate{
			{Velocity: r3.Vec{X: 10}, Defined: true, Match: 0},
			l5tracks.Undefined,
			{Velocity: r3.Vec{X: math.NaN()}, Defined: true, Match: 1},
		},
		Interval: 0.1,
	}

	s := DetectionScene(res, units.KPH)
	assert.Equal(t, KindDetection, s.Kind)
	require.Len(t, s.Layers, 4)

	cloud, ok := s.Layer(LayerCloud)
	require.True(t, ok)
	assert.Equal(t, Black, cloud.Color)
	assert.Equal(t, 3.0, cloud.PointSize)

	palette := ClusterPalette(3)
	for i := range clusters {
		l := s.Layers[i+1]
		assert.Equal(t, palette[i], l.Color)
		assert.Equal(t, 5.0, l.PointSize)
		assert.Equal(t, clusters[i].Points, l.Points)
	}

	require.Len(t, s.Labels, 1, "undefined and non-finite velocities get no label")
	assert.Equal(t, "(36.00, 0.00, 0.00)[km/h]", s.Labels[0].Text)
	assert.Equal(t, res.Centroids[0], s.Labels[0].Position)

	require.Len(t, s.Arrows, 1)
	assert.Equal(t, res.Centroids[0], s.Arrows[0].From)
	assert.InDelta(t, 1.025, s.Arrows[0].To.X, 1e-12)
}

func TestDetectionScene_NoInterval(t *testing.T) {
	res := pipeline.DetectionResult{
		Frame:      testFrame("/lidar", r3.Vec{}),
		Centroids:  []r3.Vec{{}},
		Velocities: []l5tracks.VelocityEstimate{{Velocity: r3.Vec{X: 1}, Defined: true}},
	}
	s := DetectionScene(res, units.MPS)
	assert.Len(t, s.Labels, 1)
	assert.Empty(t, s.Arrows)
}

func TestSceneToStruct(t *testing.T) {
	points := []r3.Vec{{X: math.NaN()}, {X: 1, Y: 2, Z: 3}, {Z: math.Inf(-1)}}
	s := &Scene{
		Kind:      KindDetection,
		FrameID:   "/lidar",
		Timestamp: t0,
		Layers:    []PointLayer{{Name: LayerCloud, Color: Black, PointSize: 3, Points: points}},
		Labels:    []Label{{ID: "text_0", Text: "(1.00, 0.00, 0.00)[m/s]", Position: r3.Vec{X: 1}}},
		Arrows:    []Arrow{{ID: "arrow_0", From: r3.Vec{}, To: r3.Vec{X: 1}, Color: Red}},
	}
	st, err := s.ToStruct()
	require.NoError(t, err)

	m := st.AsMap()
	assert.Equal(t, KindDetection, m["kind"])
	assert.Equal(t, "/lidar", m["frame_id"])
	layers := m["layers"].([]interface{})
	require.Len(t, layers, 1)
	layer := layers[0].(map[string]interface{})
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, layer["points"])
	assert.Len(t, m["labels"], 1)
	assert.Len(t, m["arrows"], 1)
}
