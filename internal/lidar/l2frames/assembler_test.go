package l2frames

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cloudmotion/internal/timeutil"
)

func splitSeq(t *testing.T, seq uint32, points, maxPoints int) []FrameChunk {
	t.Helper()
	f := NewPointCloudFrame("/lidar", testTime.Add(time.Duration(seq)*100*time.Millisecond), makePoints(points))
	f.Sequence = seq
	chunks, err := SplitFrame(f, maxPoints)
	require.NoError(t, err)
	return chunks
}

func newTestAssembler() (*FrameAssembler, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(testTime)
	return NewFrameAssembler(AssemblerConfig{Clock: clock}), clock
}

func TestFrameAssembler_OutOfOrderChunks(t *testing.T) {
	a, _ := newTestAssembler()
	chunks := splitSeq(t, 1, 25, 10)

	assert.Nil(t, a.Add(chunks[2]))
	assert.Nil(t, a.Add(chunks[0]))
	f := a.Add(chunks[1])
	require.NotNil(t, f)

	assert.Equal(t, makePoints(25), f.Points, "points must be reassembled in chunk order")
	assert.Equal(t, uint32(1), f.Sequence)
	assert.Equal(t, "/lidar", f.FrameID)
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint64(1), a.Stats().Completed)
}

func TestFrameAssembler_SingleChunkFrame(t *testing.T) {
	a, _ := newTestAssembler()
	f := a.Add(splitSeq(t, 3, 5, 0)[0])
	require.NotNil(t, f)
	assert.Equal(t, 5, f.Len())
}

func TestFrameAssembler_DuplicateAndLate(t *testing.T) {
	a, _ := newTestAssembler()
	chunks := splitSeq(t, 10, 20, 10)

	assert.Nil(t, a.Add(chunks[0]))
	assert.Nil(t, a.Add(chunks[0]))
	require.NotNil(t, a.Add(chunks[1]))
	assert.Nil(t, a.Add(chunks[1]), "chunk of an emitted frame is late")

	older := splitSeq(t, 9, 5, 0)
	assert.Nil(t, a.Add(older[0]))

	s := a.Stats()
	assert.Equal(t, uint64(1), s.DuplicateChunks)
	assert.Equal(t, uint64(2), s.LateChunks)
}

func TestFrameAssembler_Superseded(t *testing.T) {
	a, _ := newTestAssembler()
	stale := splitSeq(t, 1, 20, 10)
	assert.Nil(t, a.Add(stale[0]))

	require.NotNil(t, a.Add(splitSeq(t, 2, 5, 0)[0]))
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint64(1), a.Stats().DroppedSuperseded)

	assert.Nil(t, a.Add(stale[1]), "remaining chunk of superseded frame is late")
}

func TestFrameAssembler_Timeout(t *testing.T) {
	a, clock := newTestAssembler()
	chunks := splitSeq(t, 1, 20, 10)
	assert.Nil(t, a.Add(chunks[0]))

	clock.Advance(DefaultBufferTimeout - time.Millisecond)
	a.Expire()
	assert.Equal(t, 1, a.Pending())

	clock.Advance(time.Millisecond)
	a.Expire()
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint64(1), a.Stats().DroppedTimeout)

	// The dropped frame restarts from scratch and cannot complete from one chunk.
	assert.Nil(t, a.Add(chunks[1]))
}

func TestFrameAssembler_SequenceWrap(t *testing.T) {
	a, _ := newTestAssembler()
	require.NotNil(t, a.Add(splitSeq(t, ^uint32(0), 1, 0)[0]))
	require.NotNil(t, a.Add(splitSeq(t, 0, 1, 0)[0]), "sequence 0 follows MaxUint32")
}

func TestFrameAssembler_SenderRestart(t *testing.T) {
	a, _ := newTestAssembler()
	require.NotNil(t, a.Add(splitSeq(t, 50000, 1, 0)[0]))
	require.NotNil(t, a.Add(splitSeq(t, 1, 1, 0)[0]))
}

func TestFrameAssembler_InconsistentCount(t *testing.T) {
	a, _ := newTestAssembler()
	chunks := splitSeq(t, 4, 20, 10)
	assert.Nil(t, a.Add(chunks[0]))
	bad := chunks[1]
	bad.Count = 5
	assert.Nil(t, a.Add(bad))
	assert.Equal(t, uint64(1), a.Stats().InconsistentChunk)
	require.NotNil(t, a.Add(chunks[1]))
}

func TestFrameAssembler_Reset(t *testing.T) {
	a, _ := newTestAssembler()
	require.NotNil(t, a.Add(splitSeq(t, 5, 1, 0)[0]))
	a.Add(splitSeq(t, 6, 20, 10)[0])
	a.Reset()
	assert.Equal(t, 0, a.Pending())
	require.NotNil(t, a.Add(splitSeq(t, 5, 1, 0)[0]), "reset forgets the last emitted sequence")
}
