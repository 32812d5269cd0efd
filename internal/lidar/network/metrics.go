package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transport collectors. A nil *Metrics records nothing.
type Metrics struct {
	Datagrams        *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	PoseRejected     prometheus.Counter
	FramesAssembled  prometheus.Counter
	FramesDropped    prometheus.Counter
	ForwardedFrames  prometheus.Counter
	ForwarderDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Datagrams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudmotion_datagrams_received_total",
			Help: "Decoded datagrams by kind",
		}, []string{"kind"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_datagram_decode_errors_total",
			Help: "Datagrams that could not be decoded",
		}),
		PoseRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_poses_rejected_total",
			Help: "Pose datagrams rejected by the pose buffer",
		}),
		FramesAssembled: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_frames_assembled_total",
			Help: "Frames completed by the assembler",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_frames_delivery_dropped_total",
			Help: "Assembled frames dropped because the frame channel was full",
		}),
		ForwardedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_forwarded_frames_total",
			Help: "Dynamic frames sent by the cloud forwarder",
		}),
		ForwarderDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudmotion_forwarder_dropped_total",
			Help: "Dynamic frames dropped by the cloud forwarder",
		}),
	}
}

func (m *Metrics) datagram(kind string) {
	if m != nil {
		m.Datagrams.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) poseRejected() {
	if m != nil {
		m.PoseRejected.Inc()
	}
}

func (m *Metrics) frameAssembled() {
	if m != nil {
		m.FramesAssembled.Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) forwarded() {
	if m != nil {
		m.ForwardedFrames.Inc()
	}
}

func (m *Metrics) forwardDropped() {
	if m != nil {
		m.ForwarderDropped.Inc()
	}
}
