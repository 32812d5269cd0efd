// Package l3grid owns Layer 3 (Grid) of the point-cloud data model.
//
// Responsibilities: voxel quantisation of 3D points, per-voxel occupancy
// counts, and the change detector that splits a target cloud into points
// falling in newly occupied voxels (dynamic) and the rest (static).
// Key types: VoxelKey, OccupancyGrid.
//
// Dependency rule: L3 may depend on L2, but never on L4+.
package l3grid
