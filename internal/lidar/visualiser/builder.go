package visualiser

import (
	"strconv"

	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
)

// Layer names.
const (
	LayerCurrent     = "pc_current"
	LayerPrevious    = "pc_last"
	LayerDynamic     = "pc_dynamic"
	LayerCloud       = "cloud"
	clusterLayerBase = "cluster_"
)

// DynamicScene draws a dynamic-extraction cycle: the current cloud in black,
// the motion-compensated previous cloud in blue and the dynamic points in
// red. Skipped cycles show the current cloud only.
func DynamicScene(res pipeline.DynamicResult) *Scene {
	s := &Scene{Kind: KindDynamic, Skipped: string(res.Skipped)}
	if res.Frame != nil {
		s.FrameID = res.ResolvedFrameID()
		s.Timestamp = res.Frame.Timestamp
		s.Layers = append(s.Layers, PointLayer{Name: LayerCurrent, Color: Black, PointSize: 2, Points: res.Frame.Points})
	}
	if res.CompensatedPrevious != nil {
		s.Layers = append(s.Layers, PointLayer{Name: LayerPrevious, Color: Blue, PointSize: 2, Points: res.CompensatedPrevious})
	}
	if res.Dynamic != nil {
		s.Layers = append(s.Layers, PointLayer{Name: LayerDynamic, Color: Red, PointSize: 4, Points: res.Dynamic.Points})
	}
	return s
}

// DetectionScene draws a detection cycle: the full cloud in black, each
// cluster in its palette colour and, for every defined finite velocity, a
// text label at the centroid and an arrow to where the centroid will be
// after one frame interval.
func DetectionScene(res pipeline.DetectionResult, displayUnits string) *Scene {
	s := &Scene{Kind: KindDetection, Skipped: string(res.Skipped)}
	if res.Frame != nil {
		s.FrameID = res.ResolvedFrameID()
		s.Timestamp = res.Frame.Timestamp
		s.Layers = append(s.Layers, PointLayer{Name: LayerCloud, Color: Black, PointSize: 3, Points: res.Frame.Points})
	}

	colors := ClusterPalette(len(res.Clusters))
	for i, c := range res.Clusters {
		s.Layers = append(s.Layers, PointLayer{
			Name:      clusterLayerBase + strconv.Itoa(i),
			Color:     colors[i],
			PointSize: 5,
			Points:    c.Points,
		})
	}

	for i, v := range res.Velocities {
		if i >= len(res.Centroids) {
			break
		}
		if !v.Defined || !finiteVec(v.Velocity) {
			continue
		}
		c := res.Centroids[i]
		s.Labels = append(s.Labels, Label{
			ID:       "text_" + strconv.Itoa(i),
			Text:     VelocityLabel(v.Velocity, displayUnits),
			Position: c,
			Color:    Black,
		})
		if res.Interval > 0 {
			s.Arrows = append(s.Arrows, Arrow{
				ID:    "arrow_" + strconv.Itoa(i),
				From:  c,
				To:    ArrowEnd(c, v.Velocity, res.Interval),
				Color: Red,
			})
		}
	}
	return s
}
