// Package posebuffer is the in-process pose/transform service. It keeps a
// short time-indexed history of stamped poses per frame pair and answers
// lookups at arbitrary timestamps, waiting a bounded time for the pose
// stream to catch up when asked about the future.
package posebuffer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
)

const (
	// DefaultHistory is how much pose history is kept per frame pair.
	DefaultHistory = 10 * time.Second
	// DefaultTimeout bounds how long Lookup waits for a newer pose.
	DefaultTimeout = time.Second
)

// Config configures a Buffer.
type Config struct {
	History time.Duration // default: 10s
	Timeout time.Duration // default: 1s; applied on top of the caller's context
}

type framePair struct {
	parent, child string
}

// Buffer stores poses and serves time-interpolated lookups. It is safe for
// concurrent use: one goroutine typically inserts while pipelines look up.
type Buffer struct {
	history time.Duration
	timeout time.Duration

	mu     sync.Mutex
	tracks map[framePair][]egomotion.StampedPose
	// notify is closed and replaced on every successful Insert to wake waiters.
	notify chan struct{}
}

// New creates an empty Buffer.
func New(cfg Config) *Buffer {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Buffer{
		history: cfg.History,
		timeout: cfg.Timeout,
		tracks:  make(map[framePair][]egomotion.StampedPose),
		notify:  make(chan struct{}),
	}
}

// Insert validates p and adds it to the history of its frame pair. A sample
// with the same timestamp as an existing one replaces it. Samples older than
// the history window relative to the newest sample are discarded.
func (b *Buffer) Insert(p egomotion.StampedPose) error {
	if err := egomotion.ValidatePose(p); err != nil {
		opsf("rejecting pose %s->%s at %v: %v", p.ParentFrame, p.ChildFrame, p.Timestamp, err)
		return err
	}
	p.Rotation, _ = egomotion.Normalize(p.Rotation)

	key := framePair{p.ParentFrame, p.ChildFrame}

	b.mu.Lock()
	defer b.mu.Unlock()

	samples := b.tracks[key]
	i, found := slices.BinarySearchFunc(samples, p.Timestamp, func(s egomotion.StampedPose, t time.Time) int {
		return s.Timestamp.Compare(t)
	})
	if found {
		samples[i] = p
	} else {
		samples = slices.Insert(samples, i, p)
	}

	cutoff := samples[len(samples)-1].Timestamp.Add(-b.history)
	drop := 0
	for drop < len(samples)-1 && samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		samples = slices.Delete(samples, 0, drop)
	}
	b.tracks[key] = samples

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Lookup returns the pose of child in parent at t.
//
//   - t equal to a stored sample returns that sample.
//   - t between two samples interpolates them.
//   - t before the oldest retained sample fails immediately.
//   - t after the newest sample, or no samples yet, waits for newer samples
//     until ctx is done or the configured timeout elapses.
//   - the zero time returns the newest sample, waiting if there is none.
//
// Every failure wraps egomotion.ErrPoseUnavailable.
func (b *Buffer) Lookup(ctx context.Context, parent, child string, t time.Time) (egomotion.StampedPose, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	key := framePair{parent, child}
	for {
		b.mu.Lock()
		pose, wait, err := resolve(b.tracks[key], t)
		ch := b.notify
		b.mu.Unlock()

		if !wait {
			if err != nil {
				return egomotion.StampedPose{}, fmt.Errorf("%w: %s->%s at %v: %v",
					egomotion.ErrPoseUnavailable, parent, child, t, err)
			}
			return pose, nil
		}

		tracef("waiting for pose %s->%s at %v", parent, child, t)
		select {
		case <-ch:
		case <-ctx.Done():
			return egomotion.StampedPose{}, fmt.Errorf("%w: %s->%s at %v: %w",
				egomotion.ErrPoseUnavailable, parent, child, t, ctx.Err())
		}
	}
}

// resolve answers a lookup against sorted samples. wait is true when a
// newer sample could still satisfy the request.
func resolve(samples []egomotion.StampedPose, t time.Time) (pose egomotion.StampedPose, wait bool, err error) {
	if len(samples) == 0 {
		return egomotion.StampedPose{}, true, nil
	}
	if t.IsZero() {
		return samples[len(samples)-1], false, nil
	}
	if t.Before(samples[0].Timestamp) {
		return egomotion.StampedPose{}, false, fmt.Errorf("older than retained history (oldest %v)", samples[0].Timestamp)
	}
	i, found := slices.BinarySearchFunc(samples, t, func(s egomotion.StampedPose, t time.Time) int {
		return s.Timestamp.Compare(t)
	})
	if found {
		return samples[i], false, nil
	}
	if i == len(samples) {
		return egomotion.StampedPose{}, true, nil
	}
	return egomotion.Interpolate(samples[i-1], samples[i], t), false, nil
}

// Len returns the number of samples retained for a frame pair.
func (b *Buffer) Len(parent, child string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracks[framePair{parent, child}])
}
