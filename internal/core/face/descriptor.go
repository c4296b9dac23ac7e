// Package face holds the descriptor registry and the matching engine that
// decides which known identity, if any, a probe descriptor belongs to.
package face

import (
	"math"
)

// Descriptor is a fixed-length face embedding produced by the vision layer.
// Descriptors are immutable once produced and are only ever compared by
// Euclidean distance.
type Descriptor []float32

// Clone returns a copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Distance returns the Euclidean distance between two descriptors.
// The caller is responsible for ensuring both have the same length.
func Distance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
