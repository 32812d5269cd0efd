package l2frames

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/timeutil"
)

// DefaultBufferTimeout is how long an incomplete frame waits for its
// remaining chunks before it is dropped.
const DefaultBufferTimeout = 500 * time.Millisecond

// restartGap is how far a sequence may fall behind the last emitted frame
// before the sender is assumed to have restarted.
const restartGap = 1024

// AssemblerConfig configures a FrameAssembler.
type AssemblerConfig struct {
	BufferTimeout time.Duration  // default: 500ms
	Clock         timeutil.Clock // default: timeutil.RealClock
}

// AssemblerStats counts assembler outcomes since construction.
type AssemblerStats struct {
	Completed         uint64
	DroppedTimeout    uint64 // incomplete frames that exceeded BufferTimeout
	DroppedSuperseded uint64 // incomplete frames overtaken by a newer complete frame
	LateChunks        uint64 // chunks for frames already emitted or superseded
	DuplicateChunks   uint64
	InconsistentChunk uint64 // chunk count disagreed with earlier chunks of the frame
}

type partialFrame struct {
	firstSeen time.Time
	timestamp time.Time
	frameID   string
	chunks    [][]r3.Vec
	received  []bool
	remaining int
}

// FrameAssembler collects FrameChunks by sequence number and emits a frame
// once all of its chunks have arrived. Incomplete frames are dropped after
// the buffer timeout or as soon as a newer frame completes.
//
// FrameAssembler is safe for concurrent use.
type FrameAssembler struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	timeout time.Duration

	pending     map[uint32]*partialFrame
	lastEmitted uint32
	haveEmitted bool

	stats AssemblerStats
}

// NewFrameAssembler creates a FrameAssembler with defaults applied.
func NewFrameAssembler(cfg AssemblerConfig) *FrameAssembler {
	if cfg.BufferTimeout <= 0 {
		cfg.BufferTimeout = DefaultBufferTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &FrameAssembler{
		clock:   cfg.Clock,
		timeout: cfg.BufferTimeout,
		pending: make(map[uint32]*partialFrame),
	}
}

// seqBefore reports whether a precedes b using serial-number arithmetic so
// the comparison survives uint32 wrap-around.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Add consumes one chunk. It returns the completed frame when c was the
// last missing chunk, and nil otherwise.
func (a *FrameAssembler) Add(c FrameChunk) *PointCloudFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.expireLocked()

	if a.haveEmitted && !seqBefore(a.lastEmitted, c.Sequence) {
		if a.lastEmitted-c.Sequence <= restartGap {
			a.stats.LateChunks++
			tracef("late chunk seq=%d idx=%d (last emitted %d)", c.Sequence, c.Index, a.lastEmitted)
			return nil
		}
		opsf("sequence restarted: seq=%d after %d, discarding %d pending frames", c.Sequence, a.lastEmitted, len(a.pending))
		clear(a.pending)
		a.haveEmitted = false
	}
	if c.Count == 0 || c.Index >= c.Count {
		a.stats.InconsistentChunk++
		return nil
	}

	pf, ok := a.pending[c.Sequence]
	if !ok {
		pf = &partialFrame{
			firstSeen: a.clock.Now(),
			timestamp: c.Timestamp,
			frameID:   c.FrameID,
			chunks:    make([][]r3.Vec, c.Count),
			received:  make([]bool, c.Count),
			remaining: int(c.Count),
		}
		a.pending[c.Sequence] = pf
	}
	if len(pf.chunks) != int(c.Count) {
		a.stats.InconsistentChunk++
		opsf("frame seq=%d: chunk count %d disagrees with %d, dropping chunk", c.Sequence, c.Count, len(pf.chunks))
		return nil
	}
	if pf.received[c.Index] {
		a.stats.DuplicateChunks++
		return nil
	}
	pf.received[c.Index] = true
	pf.chunks[c.Index] = c.Points
	pf.remaining--
	if pf.remaining > 0 {
		return nil
	}

	delete(a.pending, c.Sequence)
	a.supersedeLocked(c.Sequence)
	a.lastEmitted = c.Sequence
	a.haveEmitted = true
	a.stats.Completed++

	total := 0
	for _, ch := range pf.chunks {
		total += len(ch)
	}
	points := make([]r3.Vec, 0, total)
	for _, ch := range pf.chunks {
		points = append(points, ch...)
	}
	tracef("frame seq=%d complete: chunks=%d points=%d", c.Sequence, len(pf.chunks), total)
	return &PointCloudFrame{
		Sequence:  c.Sequence,
		FrameID:   pf.frameID,
		Timestamp: pf.timestamp,
		Points:    points,
	}
}

// Expire drops incomplete frames older than the buffer timeout. Add calls
// it implicitly; callers with idle inputs may call it periodically.
func (a *FrameAssembler) Expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expireLocked()
}

func (a *FrameAssembler) expireLocked() {
	for seq, pf := range a.pending {
		if a.clock.Since(pf.firstSeen) >= a.timeout {
			delete(a.pending, seq)
			a.stats.DroppedTimeout++
			diagf("dropping incomplete frame seq=%d after %v (%d of %d chunks missing)",
				seq, a.timeout, pf.remaining, len(pf.chunks))
		}
	}
}

func (a *FrameAssembler) supersedeLocked(seq uint32) {
	for s, pf := range a.pending {
		if seqBefore(s, seq) {
			delete(a.pending, s)
			a.stats.DroppedSuperseded++
			diagf("dropping incomplete frame seq=%d superseded by seq=%d (%d chunks missing)",
				s, seq, pf.remaining)
		}
	}
}

// Pending returns the number of incomplete frames currently buffered.
func (a *FrameAssembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stats returns a snapshot of the assembler counters.
func (a *FrameAssembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Reset discards all buffered state, e.g. when switching from live input to
// a PCAP replay.
func (a *FrameAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.pending)
	a.haveEmitted = false
	a.lastEmitted = 0
}
