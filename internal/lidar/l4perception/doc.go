// Package l4perception owns Layer 4 (Perception) of the point-cloud data
// model.
//
// Responsibilities: the 3D spatial hash used for radius neighbourhoods and
// Euclidean connected-component clustering with per-cluster centroids.
// Key types: SpatialIndex, Cluster.
//
// Dependency rule: L4 may depend on L2-L3, but never on L5+.
package l4perception
