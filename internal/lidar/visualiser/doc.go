// Package visualiser turns pipeline cycle results into renderable scenes
// and publishes them to gRPC subscribers and an HTML top-down view.
//
// Publishing never blocks the pipelines: scenes go through a bounded queue
// and are dropped (and counted) when it is full or a subscriber is slow.
package visualiser
