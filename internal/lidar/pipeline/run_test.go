package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
)

type orderRecorder struct {
	name  string
	mu    sync.Mutex
	seqs  []uint32
	block chan struct{}
}

func (o *orderRecorder) Name() string { return o.name }

func (o *orderRecorder) Process(_ context.Context, f *l2frames.PointCloudFrame) {
	if o.block != nil {
		<-o.block
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seqs = append(o.seqs, f.Sequence)
}

func (o *orderRecorder) got() []uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint32(nil), o.seqs...)
}

func seqFrame(seq uint32) *l2frames.PointCloudFrame {
	f := frameAt(time.Duration(seq) * time.Millisecond)
	f.Sequence = seq
	return f
}

func TestRun_ProcessesInOrderUntilClosed(t *testing.T) {
	frames := make(chan *l2frames.PointCloudFrame, 10)
	for i := range uint32(5) {
		frames <- seqFrame(i)
	}
	close(frames)

	p := &orderRecorder{name: "test"}
	require.NoError(t, Run(context.Background(), frames, p))
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, p.got())
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, make(chan *l2frames.PointCloudFrame), &orderRecorder{name: "test"}) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFanout_SlowPipelineDropsOnlyItsOwnFrames(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	fast := &orderRecorder{name: "fast"}
	slow := &orderRecorder{name: "slow", block: make(chan struct{})}

	in := make(chan *l2frames.PointCloudFrame)
	done := make(chan error, 1)
	go func() { done <- Fanout(context.Background(), in, 1, metrics, fast, slow) }()

	for i := range uint32(20) {
		in <- seqFrame(i)
		// Pace the input so only the blocked pipeline overflows.
		require.Eventually(t, func() bool { return len(fast.got()) == int(i)+1 }, 2*time.Second, time.Millisecond)
	}

	close(slow.block)
	close(in)
	require.NoError(t, <-done)

	assert.Equal(t, 20, len(fast.got()))
	slowGot := slow.got()
	assert.Less(t, len(slowGot), 20)
	assert.IsIncreasing(t, slowGot, "surviving frames keep arrival order")
	assert.Equal(t, float64(20-len(slowGot)), testutil.ToFloat64(metrics.FramesDropped.WithLabelValues("slow")))
}
