package l3grid

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func planarPatch(n int, spacing float64) []r3.Vec {
	pts := make([]r3.Vec, 0, n*n)
	for i := range n {
		for j := range n {
			pts = append(pts, r3.Vec{X: float64(i) * spacing, Y: float64(j) * spacing})
		}
	}
	return pts
}

func randomCloud(rng *rand.Rand, n int, extent float64) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{
			X: (rng.Float64() - 0.5) * extent,
			Y: (rng.Float64() - 0.5) * extent,
			Z: (rng.Float64() - 0.5) * extent / 4,
		}
	}
	return pts
}

func TestPartition_NewPointsBeyondOneVoxel(t *testing.T) {
	reference := planarPatch(10, 0.05)
	target := append([]r3.Vec(nil), reference...)
	for i := range 10 {
		target = append(target, r3.Vec{X: 3 + float64(i)*0.01, Y: 0.2})
	}

	dynamic, static, err := Partition(reference, target, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Len(t, dynamic, 10)
	assert.Len(t, static, 100)
	assert.Equal(t, target[100:], dynamic)
	assert.Equal(t, reference, static)
}

func TestPartition_SelfIsStatic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, size := range []float64{0.1, 0.5, 1, 3} {
		cloud := randomCloud(rng, 500, 20)
		dynamic, static, err := Partition(cloud, cloud, ChangeParams{VoxelSize: size})
		require.NoError(t, err)
		assert.Empty(t, dynamic, "voxel size %v", size)
		if diff := cmp.Diff(cloud, static); diff != "" {
			t.Errorf("voxel size %v: static must equal target (-want +got):\n%s", size, diff)
		}
	}
}

func TestPartition_CoversTargetInOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := range 25 {
		reference := randomCloud(rng, rng.IntN(300), 10)
		target := randomCloud(rng, rng.IntN(300), 10)
		params := ChangeParams{VoxelSize: 0.2 + rng.Float64()*2, MinPointsPerLeaf: rng.IntN(4)}

		mask, err := DynamicMask(reference, target, params)
		require.NoError(t, err)
		dynamic, static, err := Partition(reference, target, params)
		require.NoError(t, err)

		require.Equal(t, len(target), len(dynamic)+len(static), "trial %d", trial)

		// Re-interleave by the mask tags and compare with target.
		rebuilt := make([]r3.Vec, 0, len(target))
		di, si := 0, 0
		for _, isDyn := range mask {
			if isDyn {
				rebuilt = append(rebuilt, dynamic[di])
				di++
			} else {
				rebuilt = append(rebuilt, static[si])
				si++
			}
		}
		if diff := cmp.Diff(target, rebuilt, cmp.Comparer(func(a, b r3.Vec) bool { return a == b })); diff != "" {
			t.Fatalf("trial %d: order not preserved (-want +got):\n%s", trial, diff)
		}
	}
}

func TestPartition_MinPointsPerLeaf(t *testing.T) {
	reference := []r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}}
	target := []r3.Vec{
		{X: 0.5, Y: 0.5, Z: 0.5}, // occupied in reference
		{X: 5.1}, {X: 5.2}, {X: 5.3}, // three points in a new voxel
		{X: 9.5}, // one point in another new voxel
	}

	tests := []struct {
		name        string
		minPoints   int
		wantDynamic []r3.Vec
	}{
		{"zero threshold", 0, target[1:]},
		{"one", 1, target[1:]},
		{"three", 3, target[1:4]},
		{"four", 4, []r3.Vec{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dynamic, static, err := Partition(reference, target, ChangeParams{VoxelSize: 1, MinPointsPerLeaf: tt.minPoints})
			require.NoError(t, err)
			assert.Equal(t, tt.wantDynamic, dynamic)
			assert.Len(t, static, len(target)-len(tt.wantDynamic))
		})
	}
}

func TestPartition_EmptyInputs(t *testing.T) {
	dynamic, static, err := Partition(nil, nil, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Empty(t, dynamic)
	assert.Empty(t, static)

	target := []r3.Vec{{X: 1}, {X: 2}}
	dynamic, static, err = Partition(nil, target, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Equal(t, target, dynamic, "everything is new against an empty reference")
	assert.Empty(t, static)
}

func TestPartition_NegativeCoordinatesUseFloor(t *testing.T) {
	// -0.1 and 0.1 straddle the origin and must fall in different voxels.
	dynamic, _, err := Partition([]r3.Vec{{X: 0.1}}, []r3.Vec{{X: -0.1}}, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Len(t, dynamic, 1)
}

func TestPartition_NonFinitePointsAreStatic(t *testing.T) {
	target := []r3.Vec{{X: math.NaN()}, {Y: math.Inf(1)}, {X: 4}}
	dynamic, static, err := Partition(nil, target, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 4}}, dynamic)
	assert.Len(t, static, 2)
}

func TestPartition_FarPointsAreDynamicAgainstEmptyReference(t *testing.T) {
	target := []r3.Vec{{X: 1}, {X: 2}, {Y: 1e300}, {Z: -1e200}}
	dynamic, static, err := Partition(nil, target, ChangeParams{VoxelSize: MinCellSize})
	require.NoError(t, err)
	assert.Equal(t, target, dynamic)
	assert.Empty(t, static)

	// Both far points saturate into the same edge voxel as the reference.
	dynamic, _, err = Partition([]r3.Vec{{Y: 1e300}}, []r3.Vec{{Y: 5e299}}, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	assert.Empty(t, dynamic)
}

func TestPartition_DoesNotAliasTarget(t *testing.T) {
	target := []r3.Vec{{X: 1}, {X: 2}}
	_, static, err := Partition(target, target, ChangeParams{VoxelSize: 1})
	require.NoError(t, err)
	static[0].X = 99
	assert.Equal(t, 1.0, target[0].X)
}

func TestChangeParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params ChangeParams
		want   error
	}{
		{"ok", ChangeParams{VoxelSize: 0.5}, nil},
		{"zero voxel", ChangeParams{VoxelSize: 0}, ErrInvalidVoxelSize},
		{"negative voxel", ChangeParams{VoxelSize: -1}, ErrInvalidVoxelSize},
		{"nan voxel", ChangeParams{VoxelSize: math.NaN()}, ErrInvalidVoxelSize},
		{"voxel below floor", ChangeParams{VoxelSize: 1e-19}, ErrInvalidVoxelSize},
		{"negative min points", ChangeParams{VoxelSize: 1, MinPointsPerLeaf: -1}, ErrInvalidMinPoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			_, _, perr := Partition(nil, nil, tt.params)
			assert.ErrorIs(t, perr, tt.want)
		})
	}
}
