package network

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
)

// PoseSink accepts decoded poses; posebuffer.Buffer implements it.
type PoseSink interface {
	Insert(p egomotion.StampedPose) error
}

// DatagramHandler consumes one raw datagram payload.
type DatagramHandler interface {
	HandleDatagram(payload []byte) error
}

// ReceiverConfig wires a Receiver.
type ReceiverConfig struct {
	Poses     PoseSink                         // optional: pose datagrams are counted and dropped without it
	Assembler *l2frames.FrameAssembler         // required
	Frames    chan<- *l2frames.PointCloudFrame // required: completed frames
	Metrics   *Metrics                         // optional
}

// ReceiverStats counts receiver outcomes since construction.
type ReceiverStats struct {
	Datagrams     uint64
	DecodeErrors  uint64
	Poses         uint64
	PosesRejected uint64
	Chunks        uint64
	Frames        uint64
	FramesDropped uint64
}

// Receiver decodes datagrams, routes poses to the pose sink and frame
// chunks to the assembler, and delivers completed frames without blocking.
// It is shared by the UDP listener and PCAP replay.
type Receiver struct {
	poses     PoseSink
	assembler *l2frames.FrameAssembler
	frames    chan<- *l2frames.PointCloudFrame
	metrics   *Metrics

	datagrams     atomic.Uint64
	decodeErrors  atomic.Uint64
	posesIn       atomic.Uint64
	posesRejected atomic.Uint64
	chunks        atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
}

// NewReceiver validates cfg and returns a Receiver.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("receiver: assembler is required")
	}
	if cfg.Frames == nil {
		return nil, fmt.Errorf("receiver: frame channel is required")
	}
	return &Receiver{
		poses:     cfg.Poses,
		assembler: cfg.Assembler,
		frames:    cfg.Frames,
		metrics:   cfg.Metrics,
	}, nil
}

// HandleDatagram processes one datagram. Errors are per-datagram and never
// fatal to the caller's read loop.
func (r *Receiver) HandleDatagram(payload []byte) error {
	r.datagrams.Add(1)
	d, err := l2frames.Decode(payload)
	if err != nil {
		r.decodeErrors.Add(1)
		r.metrics.decodeError()
		return fmt.Errorf("decode datagram of %d bytes: %w", len(payload), err)
	}

	switch d.Kind {
	case l2frames.KindPose:
		r.posesIn.Add(1)
		r.metrics.datagram("pose")
		if r.poses == nil {
			return nil
		}
		if err := r.poses.Insert(*d.Pose); err != nil {
			r.posesRejected.Add(1)
			r.metrics.poseRejected()
			return fmt.Errorf("pose %s->%s at %s rejected: %w",
				d.Pose.ParentFrame, d.Pose.ChildFrame, d.Pose.Timestamp, err)
		}
	case l2frames.KindFrameChunk:
		r.chunks.Add(1)
		r.metrics.datagram("frame_chunk")
		if f := r.assembler.Add(*d.Chunk); f != nil {
			r.metrics.frameAssembled()
			r.deliver(f)
		}
	}
	return nil
}

func (r *Receiver) deliver(f *l2frames.PointCloudFrame) {
	select {
	case r.frames <- f:
		r.delivered.Add(1)
		tracef("frame %d (%s) delivered with %d points", f.Sequence, f.FrameID, f.Len())
	default:
		n := r.dropped.Add(1)
		r.metrics.frameDropped()
		opsf("frame channel full, dropping frame %d (total dropped: %d)", f.Sequence, n)
	}
}

// Expire drops incomplete frames that exceeded the assembler timeout.
func (r *Receiver) Expire() {
	r.assembler.Expire()
}

// Stats returns receiver statistics.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Datagrams:     r.datagrams.Load(),
		DecodeErrors:  r.decodeErrors.Load(),
		Poses:         r.posesIn.Load(),
		PosesRejected: r.posesRejected.Load(),
		Chunks:        r.chunks.Load(),
		Frames:        r.delivered.Load(),
		FramesDropped: r.dropped.Load(),
	}
}
