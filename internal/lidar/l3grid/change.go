package l3grid

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ChangeParams configures change detection.
type ChangeParams struct {
	VoxelSize        float64 // cell edge length in metres, > 0
	MinPointsPerLeaf int     // target points a new voxel needs to count as dynamic, >= 0
}

// Validate checks the parameter invariants.
func (p ChangeParams) Validate() error {
	if err := ValidateVoxelSize(p.VoxelSize); err != nil {
		return err
	}
	if p.MinPointsPerLeaf < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMinPoints, p.MinPointsPerLeaf)
	}
	return nil
}

// DynamicMask marks each target point as dynamic (true) or static (false).
//
// A reference voxel is occupied as soon as it holds one point. A target
// point is dynamic iff its voxel is not occupied in reference and the
// target holds at least MinPointsPerLeaf points in that voxel. Points with
// non-finite coordinates are always static.
func DynamicMask(reference, target []r3.Vec, params ChangeParams) ([]bool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ref := &OccupancyGrid{size: params.VoxelSize, counts: make(map[VoxelKey]int, len(reference)/4)}
	ref.Add(reference)

	keys := make([]VoxelKey, len(target))
	valid := make([]bool, len(target))
	tgt := make(map[VoxelKey]int, len(target)/4)
	for i, p := range target {
		k, ok := KeyOf(p, params.VoxelSize)
		if !ok {
			continue
		}
		keys[i], valid[i] = k, true
		tgt[k]++
	}

	mask := make([]bool, len(target))
	for i := range target {
		if !valid[i] {
			continue
		}
		k := keys[i]
		mask[i] = !ref.Occupied(k) && tgt[k] >= params.MinPointsPerLeaf
	}
	return mask, nil
}

// Partition splits target into dynamic and static subsequences. Both keep
// target's relative order, are disjoint, and together cover target. When
// no voxel qualifies as new, static holds every target point and dynamic
// is empty. The returned slices never alias target.
func Partition(reference, target []r3.Vec, params ChangeParams) (dynamic, static []r3.Vec, err error) {
	mask, err := DynamicMask(reference, target, params)
	if err != nil {
		return nil, nil, err
	}
	nDyn := 0
	for _, d := range mask {
		if d {
			nDyn++
		}
	}
	dynamic = make([]r3.Vec, 0, nDyn)
	static = make([]r3.Vec, 0, len(target)-nDyn)
	for i, p := range target {
		if mask[i] {
			dynamic = append(dynamic, p)
		} else {
			static = append(static, p)
		}
	}
	return dynamic, static, nil
}
