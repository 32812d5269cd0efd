package l2frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/lidar/egomotion"
)

// Datagram magics.
const (
	FrameMagic = "CMF1"
	PoseMagic  = "CMP1"
)

const (
	// MaxPointsPerChunk bounds a chunk to 48 KiB of point payload so it fits
	// a single UDP datagram.
	MaxPointsPerChunk = 4096

	frameHeaderBytes = 4 + 4 + 2 + 2 + 8 + 2 // magic, seq, idx, count, ts, id len
	poseHeaderBytes  = 4 + 8                 // magic, ts
	pointBytes       = 12
)

var (
	ErrShortDatagram = errors.New("datagram too short")
	ErrUnknownMagic  = errors.New("unknown datagram magic")
	ErrChunkTooLarge = errors.New("chunk exceeds point limit")
)

// FrameChunk is one datagram's share of a PointCloudFrame.
type FrameChunk struct {
	Sequence  uint32
	Index     uint16
	Count     uint16
	Timestamp time.Time
	FrameID   string
	Points    []r3.Vec
}

// DatagramKind identifies the payload of a decoded datagram.
type DatagramKind int

const (
	KindFrameChunk DatagramKind = iota + 1
	KindPose
)

// Datagram is a decoded datagram; exactly one of Chunk or Pose is set.
type Datagram struct {
	Kind  DatagramKind
	Chunk *FrameChunk
	Pose  *egomotion.StampedPose
}

// SplitFrame cuts f into chunks of at most maxPoints points. maxPoints <= 0
// selects MaxPointsPerChunk. An empty frame yields one empty chunk so the
// frame still reaches the receiver.
func SplitFrame(f *PointCloudFrame, maxPoints int) ([]FrameChunk, error) {
	if maxPoints <= 0 || maxPoints > MaxPointsPerChunk {
		maxPoints = MaxPointsPerChunk
	}
	n := (f.Len() + maxPoints - 1) / maxPoints
	if n == 0 {
		n = 1
	}
	if n > math.MaxUint16 {
		return nil, fmt.Errorf("frame of %d points needs %d chunks: %w", f.Len(), n, ErrChunkTooLarge)
	}
	chunks := make([]FrameChunk, 0, n)
	for i := range n {
		lo := i * maxPoints
		hi := min(lo+maxPoints, f.Len())
		chunks = append(chunks, FrameChunk{
			Sequence:  f.Sequence,
			Index:     uint16(i),
			Count:     uint16(n),
			Timestamp: f.Timestamp,
			FrameID:   f.FrameID,
			Points:    f.Points[lo:hi],
		})
	}
	return chunks, nil
}

// EncodeFrameChunk serialises c.
func EncodeFrameChunk(c FrameChunk) ([]byte, error) {
	if len(c.Points) > MaxPointsPerChunk {
		return nil, fmt.Errorf("%d points: %w", len(c.Points), ErrChunkTooLarge)
	}
	if len(c.FrameID) > math.MaxUint16 {
		return nil, fmt.Errorf("frame id of %d bytes too long", len(c.FrameID))
	}
	buf := make([]byte, 0, frameHeaderBytes+len(c.FrameID)+4+len(c.Points)*pointBytes)
	buf = append(buf, FrameMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, c.Sequence)
	buf = binary.LittleEndian.AppendUint16(buf, c.Index)
	buf = binary.LittleEndian.AppendUint16(buf, c.Count)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Timestamp.UnixNano()))
	buf = appendString(buf, c.FrameID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Points)))
	for _, p := range c.Points {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.X)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Y)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(p.Z)))
	}
	return buf, nil
}

// EncodePose serialises p.
func EncodePose(p egomotion.StampedPose) []byte {
	buf := make([]byte, 0, poseHeaderBytes+4+len(p.ParentFrame)+len(p.ChildFrame)+7*8)
	buf = append(buf, PoseMagic...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Timestamp.UnixNano()))
	buf = appendString(buf, p.ParentFrame)
	buf = appendString(buf, p.ChildFrame)
	for _, v := range []float64{
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag,
	} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// Decode parses a datagram produced by EncodeFrameChunk or EncodePose.
// Decoded points and strings never alias b.
func Decode(b []byte) (Datagram, error) {
	if len(b) < 4 {
		return Datagram{}, ErrShortDatagram
	}
	r := reader{buf: b[4:]}
	switch string(b[:4]) {
	case FrameMagic:
		c := &FrameChunk{
			Sequence: r.u32(),
			Index:    r.u16(),
			Count:    r.u16(),
		}
		c.Timestamp = time.Unix(0, int64(r.u64())).UTC()
		c.FrameID = r.str()
		n := int(r.u32())
		if r.err == nil && n > MaxPointsPerChunk {
			return Datagram{}, fmt.Errorf("%d points: %w", n, ErrChunkTooLarge)
		}
		if r.err == nil && len(r.buf) < n*pointBytes {
			r.err = ErrShortDatagram
		}
		if r.err != nil {
			return Datagram{}, fmt.Errorf("frame chunk: %w", r.err)
		}
		if c.Count == 0 || c.Index >= c.Count {
			return Datagram{}, fmt.Errorf("frame chunk: index %d of %d out of range", c.Index, c.Count)
		}
		c.Points = make([]r3.Vec, n)
		for i := range c.Points {
			c.Points[i] = r3.Vec{X: r.f32(), Y: r.f32(), Z: r.f32()}
		}
		return Datagram{Kind: KindFrameChunk, Chunk: c}, nil

	case PoseMagic:
		p := &egomotion.StampedPose{}
		p.Timestamp = time.Unix(0, int64(r.u64())).UTC()
		p.ParentFrame = r.str()
		p.ChildFrame = r.str()
		p.Translation = r3.Vec{X: r.f64(), Y: r.f64(), Z: r.f64()}
		p.Rotation = quat.Number{Real: r.f64(), Imag: r.f64(), Jmag: r.f64(), Kmag: r.f64()}
		if r.err != nil {
			return Datagram{}, fmt.Errorf("pose: %w", r.err)
		}
		return Datagram{Kind: KindPose, Pose: p}, nil
	}
	return Datagram{}, fmt.Errorf("%w: %q", ErrUnknownMagic, b[:4])
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader consumes little-endian fields, latching the first short read.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrShortDatagram
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) f32() float64 { return float64(math.Float32frombits(r.u32())) }
func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) str() string {
	n := int(r.u16())
	if b := r.take(n); b != nil {
		return string(b)
	}
	return ""
}
