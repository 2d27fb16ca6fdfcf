package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Distance returns the straight-line distance between two planar points.
func Distance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}

// MutualRange returns the usable link range between two radios: the
// shorter of the two communication radii.
func MutualRange(ra, rb float64) float64 {
	return math.Min(ra, rb)
}

// InMutualRange reports whether two radios at a and b with radii ra and
// rb can hear each other.
func InMutualRange(a, b r2.Vec, ra, rb float64) bool {
	return Distance(a, b) <= MutualRange(ra, rb)
}
