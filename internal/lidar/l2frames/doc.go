// Package l2frames owns Layer 2 (Frames) of the point-cloud data model.
//
// Responsibilities: the immutable PointCloudFrame handed between pipeline
// stages, the little-endian datagram codec for frame chunks and poses, and
// reassembly of chunked frames arriving over UDP.
// Key types: PointCloudFrame, FrameChunk, FrameAssembler.
//
// Dependency rule: L2 may depend on egomotion for pose values, but never on
// L3+.
package l2frames
