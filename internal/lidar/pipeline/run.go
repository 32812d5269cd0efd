package pipeline

import (
	"context"
	"sync"

	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
)

// Run feeds frames to p one at a time, in arrival order, until frames is
// closed or ctx is done. It returns ctx.Err() on cancellation and nil when
// the input is exhausted. Frames are never processed concurrently, so p
// needs no locking around its buffered state.
func Run(ctx context.Context, frames <-chan *l2frames.PointCloudFrame, p Processor) error {
	opsf("[%s] pipeline started", p.Name())
	defer opsf("[%s] pipeline stopped", p.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			p.Process(ctx, frame)
		}
	}
}

// Fanout copies every frame from in to one bounded queue per processor and
// runs each processor on its own goroutine. A full queue drops the frame
// for that processor only, so a slow pipeline never stalls the other one.
// Fanout returns when in is closed and all queues have drained, or when
// ctx is done.
func Fanout(ctx context.Context, in <-chan *l2frames.PointCloudFrame, queueSize int, metrics *Metrics, procs ...Processor) error {
	if queueSize <= 0 {
		queueSize = 1
	}
	queues := make([]chan *l2frames.PointCloudFrame, len(procs))
	var wg sync.WaitGroup
	for i, p := range procs {
		queues[i] = make(chan *l2frames.PointCloudFrame, queueSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Run(ctx, queues[i], p)
		}()
	}

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				return nil
			}
			for i, q := range queues {
				select {
				case q <- frame:
				default:
					metrics.FrameDropped(procs[i].Name())
					tracef("[%s] queue full, dropping frame %s", procs[i].Name(), frame.FrameID)
				}
			}
		}
	}
}
