package l2frames

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

func makePoints(n int) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		// Values exactly representable in float32.
		pts[i] = r3.Vec{X: float64(i) * 0.25, Y: -float64(i), Z: 0.5}
	}
	return pts
}

func TestSplitFrame(t *testing.T) {
	tests := []struct {
		name       string
		points     int
		maxPoints  int
		wantChunks int
		wantLast   int
	}{
		{"empty frame yields one chunk", 0, 10, 1, 0},
		{"exact multiple", 20, 10, 2, 10},
		{"remainder", 25, 10, 3, 5},
		{"default limit", MaxPointsPerChunk + 1, 0, 2, 1},
		{"limit clamped", 10, MaxPointsPerChunk * 2, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPointCloudFrame("/lidar", testTime, makePoints(tt.points))
			f.Sequence = 7
			chunks, err := SplitFrame(f, tt.maxPoints)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantChunks)
			for i, c := range chunks {
				assert.Equal(t, uint16(i), c.Index)
				assert.Equal(t, uint16(tt.wantChunks), c.Count)
				assert.Equal(t, uint32(7), c.Sequence)
			}
			assert.Len(t, chunks[len(chunks)-1].Points, tt.wantLast)
		})
	}
}

func TestFrameChunkRoundTrip(t *testing.T) {
	in := FrameChunk{
		Sequence:  42,
		Index:     1,
		Count:     3,
		Timestamp: testTime,
		FrameID:   "/velodyne",
		Points:    makePoints(17),
	}
	b, err := EncodeFrameChunk(in)
	require.NoError(t, err)

	d, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, KindFrameChunk, d.Kind)
	require.NotNil(t, d.Chunk)
	if diff := cmp.Diff(in, *d.Chunk); diff != "" {
		t.Errorf("chunk mismatch (-want +got):\n%s", diff)
	}
}

func TestPoseRoundTrip(t *testing.T) {
	in := egomotion.StampedPose{
		ParentFrame: "/odom",
		ChildFrame:  "/lidar",
		Timestamp:   testTime,
		Translation: r3.Vec{X: 1.5, Y: -2.25, Z: 1e-3},
		Rotation:    quat.Number{Real: 0.6, Kmag: 0.8},
	}
	d, err := Decode(EncodePose(in))
	require.NoError(t, err)
	require.Equal(t, KindPose, d.Kind)
	assert.Equal(t, in, *d.Pose)
}

func TestDecodeErrors(t *testing.T) {
	good, err := EncodeFrameChunk(FrameChunk{Count: 1, FrameID: "/lidar", Points: makePoints(4)})
	require.NoError(t, err)

	badIndex, err := EncodeFrameChunk(FrameChunk{Index: 2, Count: 2, Points: makePoints(1)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		in     []byte
		target error
	}{
		{"empty", nil, ErrShortDatagram},
		{"unknown magic", []byte("XXXX1234"), ErrUnknownMagic},
		{"truncated header", good[:10], ErrShortDatagram},
		{"truncated points", good[:len(good)-5], ErrShortDatagram},
		{"truncated pose", EncodePose(egomotion.StampedPose{})[:20], ErrShortDatagram},
		{"index out of range", badIndex, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			require.Error(t, err)
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Decode error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestEncodeFrameChunk_TooLarge(t *testing.T) {
	_, err := EncodeFrameChunk(FrameChunk{Count: 1, Points: make([]r3.Vec, MaxPointsPerChunk+1)})
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestPointCloudFrame(t *testing.T) {
	src := makePoints(3)
	f := NewPointCloudFrame("/lidar", testTime, src)
	src[0].X = 99
	assert.Equal(t, 0.0, f.Points[0].X, "constructor must copy points")
	assert.Equal(t, 3, f.Len())

	var nilFrame *PointCloudFrame
	assert.Equal(t, 0, nilFrame.Len())
	assert.Nil(t, nilFrame.Clone())

	c := f.Clone()
	c.Points[1].Y = 5
	assert.Equal(t, -1.0, f.Points[1].Y, "clone must not alias")

	sub := f.WithPoints(f.Points[:1])
	assert.Equal(t, f.FrameID, sub.FrameID)
	assert.Equal(t, f.Timestamp, sub.Timestamp)
	assert.Equal(t, 1, sub.Len())
}
