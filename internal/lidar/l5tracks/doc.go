// Package l5tracks owns Layer 5 (Tracks) of the point-cloud data model.
//
// Responsibilities: two-frame centroid association and per-object velocity
// estimation. There is no persistent track identity: each call associates
// the current frame's centroids with the previous frame's only.
// Key types: CentroidSet, VelocityEstimate.
//
// Dependency rule: L5 may depend on L2-L4, but never on L6.
package l5tracks
