package visualiser

import (
	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
	"github.com/banshee-data/cloudmotion/internal/units"
)

// Adapter turns pipeline results into scenes and publishes them. It
// implements pipeline.DynamicObserver and pipeline.DetectionObserver.
type Adapter struct {
	pub          *Publisher
	displayUnits string
}

var (
	_ pipeline.DynamicObserver   = (*Adapter)(nil)
	_ pipeline.DetectionObserver = (*Adapter)(nil)
)

// NewAdapter returns an adapter publishing to pub, labelling velocities in
// displayUnits (m/s when empty or unknown).
func NewAdapter(pub *Publisher, displayUnits string) *Adapter {
	if !units.IsValid(displayUnits) {
		displayUnits = units.MPS
	}
	return &Adapter{pub: pub, displayUnits: displayUnits}
}

// ObserveDynamic publishes the dynamic-extraction scene.
func (a *Adapter) ObserveDynamic(res pipeline.DynamicResult) {
	a.pub.Publish(DynamicScene(res))
}

// ObserveDetection publishes the detection scene.
func (a *Adapter) ObserveDetection(res pipeline.DetectionResult) {
	a.pub.Publish(DetectionScene(res, a.displayUnits))
}
