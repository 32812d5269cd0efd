// Package egomotion owns the rigid-transform algebra shared by both
// pipelines: stamped sensor poses, pose validation and interpolation, and
// ego-motion compensation of a point set captured at one pose into the
// coordinate frame of another.
//
// Everything here is pure. Functions never mutate the point slices they
// are given; compensated points are always returned in a new slice.
package egomotion
