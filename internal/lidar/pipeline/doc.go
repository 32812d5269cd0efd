// Package pipeline orchestrates the two per-frame processing flows.
//
// The dynamic-extraction pipeline compensates the previous frame into the
// current sensor pose and partitions the current frame into dynamic and
// static points. The detection pipeline clusters each frame and associates
// cluster centroids with the previous frame's to estimate velocities.
//
// Each pipeline owns its single piece of long-lived state (the previous
// frame or previous centroids), replaces it wholesale at the end of every
// cycle, and is driven by exactly one goroutine through Run. The pipeline
// holds no domain logic of its own: it delegates to the layer packages and
// routes results to sinks.
package pipeline
