package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
)

// DefaultForwardQueue is the number of frames buffered by a CloudForwarder.
const DefaultForwardQueue = 8

// CloudForwarder sends emitted dynamic frames to a UDP destination using
// the frame wire format. SendCloud never blocks: when the queue is full the
// frame is dropped and counted.
type CloudForwarder struct {
	conn        net.Conn
	queue       chan *l2frames.PointCloudFrame
	address     string
	logInterval time.Duration
	metrics     *Metrics

	seq       atomic.Uint32
	sent      atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// NewCloudForwarder dials addr ("host:port") and returns a forwarder with
// the given queue length (DefaultForwardQueue when <= 0).
func NewCloudForwarder(addr string, queueLen int, logInterval time.Duration, metrics *Metrics) (*CloudForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newCloudForwarder(conn, addr, queueLen, logInterval, metrics), nil
}

func newCloudForwarder(conn net.Conn, addr string, queueLen int, logInterval time.Duration, metrics *Metrics) *CloudForwarder {
	if queueLen <= 0 {
		queueLen = DefaultForwardQueue
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &CloudForwarder{
		conn:        conn,
		queue:       make(chan *l2frames.PointCloudFrame, queueLen),
		address:     addr,
		logInterval: logInterval,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
}

// Start runs the send loop until ctx is done or Close is called.
func (f *CloudForwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case frame := <-f.queue:
				if err := f.send(frame); err != nil {
					failed++
					lastError = err
					f.dropped.Add(1)
					f.metrics.forwardDropped()
					continue
				}
				f.sent.Add(1)
				f.metrics.forwarded()
			case <-ticker.C:
				if failed > 0 && lastError != nil {
					opsf("failed to forward %d dynamic frames (latest: %v)", failed, lastError)
					failed = 0
					lastError = nil
				}
			}
		}
	}()
	opsf("forwarding dynamic clouds to %s", f.address)
}

// SendCloud implements pipeline.CloudSink. The frame is queued as-is; the
// pipelines never modify a frame after emitting it.
func (f *CloudForwarder) SendCloud(frame *l2frames.PointCloudFrame) {
	if frame == nil {
		return
	}
	select {
	case f.queue <- frame:
	default:
		n := f.dropped.Add(1)
		f.metrics.forwardDropped()
		tracef("forward queue full, dropping dynamic frame %s (total dropped: %d)", frame.FrameID, n)
	}
}

func (f *CloudForwarder) send(frame *l2frames.PointCloudFrame) error {
	out := *frame
	out.Sequence = f.seq.Add(1)
	chunks, err := l2frames.SplitFrame(&out, l2frames.MaxPointsPerChunk)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		b, err := l2frames.EncodeFrameChunk(c)
		if err != nil {
			return err
		}
		if _, err := f.conn.Write(b); err != nil {
			return fmt.Errorf("write chunk %d/%d of frame %d: %w", c.Index+1, c.Count, c.Sequence, err)
		}
	}
	return nil
}

// Sent returns the number of frames written.
func (f *CloudForwarder) Sent() uint64 { return f.sent.Load() }

// Dropped returns the number of frames dropped on a full queue or a send error.
func (f *CloudForwarder) Dropped() uint64 { return f.dropped.Load() }

// Close stops the send loop and closes the connection.
func (f *CloudForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
