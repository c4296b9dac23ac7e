package face

import (
	"errors"
	"fmt"
	"math"
)

// DefaultTolerance is the maximum descriptor distance accepted as a match.
const DefaultTolerance = 0.6

// ErrInvalidTolerance is returned for a tolerance outside (0, +inf).
var ErrInvalidTolerance = errors.New("tolerance must be a positive number")

// Match is the outcome of matching one probe descriptor against the registry.
// Known is false for an unidentified probe; Name and Confidence are only
// meaningful when Known is true.
type Match struct {
	Name       string
	Confidence float64
	Known      bool
}

// Matcher compares probe descriptors against registry entries using Euclidean
// distance with a fixed acceptance tolerance.
type Matcher struct {
	tolerance float64
}

// NewMatcher creates a matcher. The tolerance must be positive; lower values
// are stricter.
func NewMatcher(tolerance float64) (*Matcher, error) {
	if math.IsNaN(tolerance) || tolerance <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTolerance, tolerance)
	}
	return &Matcher{tolerance: tolerance}, nil
}

// Tolerance returns the configured acceptance tolerance.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Match finds the nearest entry to the probe. Ties are broken by registry
// order, so results are deterministic. A rejected match reports confidence 0
// even when the nearest distance was only just above the tolerance; there is
// no partial credit below the acceptance line.
func (m *Matcher) Match(probe Descriptor, entries []Entry) (Match, error) {
	if len(probe) == 0 {
		return Match{}, ErrEmptyDescriptor
	}
	if len(entries) == 0 {
		return Match{}, nil
	}

	best := -1
	bestDist := math.Inf(1)
	for i, e := range entries {
		if len(e.Descriptor) != len(probe) {
			return Match{}, fmt.Errorf("%w: probe has %d, entry %q has %d",
				ErrDimensionMismatch, len(probe), e.Name, len(e.Descriptor))
		}
		d := Distance(probe, e.Descriptor)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if bestDist > m.tolerance {
		return Match{}, nil
	}

	return Match{
		Name:       entries[best].Name,
		Confidence: math.Max(0, 1.0-bestDist),
		Known:      true,
	}, nil
}
