package visualiser

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudmotion/internal/units"
)

// ClusterPalette returns n distinct colours. Each channel takes values in
// {0, 1/step, ..., 1} with step = ceil((n+2)^(1/3)); colours are generated
// by counting upward from black with the red channel least significant.
// Since n+2 <= step^3, neither black nor white is ever returned.
func ClusterPalette(n int) []RGB {
	if n <= 0 {
		return nil
	}
	step := int(math.Ceil(math.Cbrt(float64(n + 2))))
	var digits [3]int
	out := make([]RGB, n)
	for i := range out {
		digits[0]++
		for j := 0; j < 2; j++ {
			if digits[j] > step {
				digits[j] = 0
				digits[j+1]++
			}
		}
		out[i] = RGB{
			R: float64(digits[0]) / float64(step),
			G: float64(digits[1]) / float64(step),
			B: float64(digits[2]) / float64(step),
		}
	}
	return out
}

// VelocityLabel formats v (m/s) as "(vx, vy, vz)[unit]" with two decimals
// in the display unit.
func VelocityLabel(v r3.Vec, displayUnits string) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)[%s]",
		units.ConvertSpeed(v.X, displayUnits),
		units.ConvertSpeed(v.Y, displayUnits),
		units.ConvertSpeed(v.Z, displayUnits),
		units.Label(displayUnits))
}

// ArrowEnd returns the position reached from c after moving at v for dt
// seconds.
func ArrowEnd(c, v r3.Vec, dt float64) r3.Vec {
	return r3.Add(c, r3.Scale(dt, v))
}

func finiteVec(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
