package visualiser

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/types/known/structpb"
)

// Scene kinds.
const (
	KindDynamic   = "dynamic"
	KindDetection = "detection"
)

// RGB is a colour with components in [0, 1].
type RGB struct {
	R, G, B float64
}

var (
	Black = RGB{0, 0, 0}
	White = RGB{1, 1, 1}
	Red   = RGB{1, 0, 0}
	Blue  = RGB{0, 0, 1}
)

// Hex returns the colour as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel8(c.R), channel8(c.G), channel8(c.B))
}

func channel8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// PointLayer is a named, uniformly coloured set of points.
type PointLayer struct {
	Name      string
	Color     RGB
	PointSize float64
	Points    []r3.Vec
}

// Label is a text annotation anchored at a 3D position.
type Label struct {
	ID       string
	Text     string
	Position r3.Vec
	Color    RGB
}

// Arrow is a 3D arrow from From to To.
type Arrow struct {
	ID    string
	From  r3.Vec
	To    r3.Vec
	Color RGB
}

// Scene is everything drawn for one pipeline cycle. A new scene replaces
// the previous one of the same kind entirely.
type Scene struct {
	Kind      string
	FrameID   string
	Timestamp time.Time
	Skipped   string

	Layers []PointLayer
	Labels []Label
	Arrows []Arrow
}

// PointCount returns the number of points over all layers.
func (s *Scene) PointCount() int {
	n := 0
	for _, l := range s.Layers {
		n += len(l.Points)
	}
	return n
}

// Layer returns the layer with the given name.
func (s *Scene) Layer(name string) (PointLayer, bool) {
	for _, l := range s.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return PointLayer{}, false
}

// ToStruct encodes the scene as a protobuf Struct for the scene stream.
// Points are flattened to [x0, y0, z0, x1, ...]; non-finite points are left
// out, as on /scene.
func (s *Scene) ToStruct() (*structpb.Struct, error) {
	layers := make([]interface{}, len(s.Layers))
	for i, l := range s.Layers {
		layers[i] = map[string]interface{}{
			"name":       l.Name,
			"color":      rgbValue(l.Color),
			"point_size": l.PointSize,
			"points":     flatten(l.Points),
		}
	}
	labels := make([]interface{}, len(s.Labels))
	for i, l := range s.Labels {
		labels[i] = map[string]interface{}{
			"id":       l.ID,
			"text":     l.Text,
			"position": vecValue(l.Position),
			"color":    rgbValue(l.Color),
		}
	}
	arrows := make([]interface{}, len(s.Arrows))
	for i, a := range s.Arrows {
		arrows[i] = map[string]interface{}{
			"id":    a.ID,
			"from":  vecValue(a.From),
			"to":    vecValue(a.To),
			"color": rgbValue(a.Color),
		}
	}
	st, err := structpb.NewStruct(map[string]interface{}{
		"kind":              s.Kind,
		"frame_id":          s.FrameID,
		"timestamp_unix_ns": float64(s.Timestamp.UnixNano()),
		"skipped":           s.Skipped,
		"layers":            layers,
		"labels":            labels,
		"arrows":            arrows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s scene %s: %w", s.Kind, s.FrameID, err)
	}
	return st, nil
}

func rgbValue(c RGB) []interface{} {
	return []interface{}{c.R, c.G, c.B}
}

func vecValue(v r3.Vec) []interface{} {
	return []interface{}{v.X, v.Y, v.Z}
}

func flatten(points []r3.Vec) []interface{} {
	out := make([]interface{}, 0, 3*len(points))
	for _, p := range points {
		if !finiteVec(p) {
			continue
		}
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}
