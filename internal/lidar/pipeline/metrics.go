package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline label values.
const (
	pipelineDynamic   = "dynamic"
	pipelineDetection = "detection"
)

// Metrics holds the Prometheus collectors shared by both pipelines. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	CyclesSkipped   *prometheus.CounterVec
	DynamicPoints   prometheus.Counter
	Clusters        prometheus.Counter
	Associations    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudmotion_frames_processed_total",
			Help: "Frames fully processed by a pipeline",
		}, []string{"pipeline"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudmotion_frames_dropped_total",
			Help: "Frames dropped before reaching a pipeline because its queue was full",
		}, []string{"pipeline"}),
		CyclesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudmotion_cycles_skipped_total",
			Help: "Cycles that produced no differencing output, by reason",
		}, []string{"pipeline", "reason"}),
		DynamicPoints: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_dynamic_points_total",
			Help: "Points emitted as dynamic",
		}),
		Clusters: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_clusters_total",
			Help: "Clusters extracted by the detection pipeline",
		}),
		Associations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudmotion_associations_total",
			Help: "Centroid association outcomes",
		}, []string{"result"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudmotion_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"pipeline", "stage"}),
	}
}

func (m *Metrics) frameProcessed(pipeline string) {
	if m != nil {
		m.FramesProcessed.WithLabelValues(pipeline).Inc()
	}
}

// FrameDropped counts a frame discarded before it reached pipeline.
func (m *Metrics) FrameDropped(pipeline string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(pipeline).Inc()
	}
}

func (m *Metrics) cycleSkipped(pipeline string, reason SkipReason) {
	if m != nil {
		m.CyclesSkipped.WithLabelValues(pipeline, string(reason)).Inc()
	}
}

func (m *Metrics) dynamicPoints(n int) {
	if m != nil {
		m.DynamicPoints.Add(float64(n))
	}
}

func (m *Metrics) clusters(n int) {
	if m != nil {
		m.Clusters.Add(float64(n))
	}
}

func (m *Metrics) associations(matched, unmatched int) {
	if m != nil {
		m.Associations.WithLabelValues("matched").Add(float64(matched))
		m.Associations.WithLabelValues("unmatched").Add(float64(unmatched))
	}
}

func (m *Metrics) observeStage(pipeline, stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
	}
}
