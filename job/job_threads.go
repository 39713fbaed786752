package job

import (
	"math"
	"strconv"
	"strings"
)

const (
	// MinThreads is the lowest thread hint passed to the engine.
	MinThreads = 1
	// MaxThreads is the highest thread hint passed to the engine.
	MaxThreads = 8
	// DefaultThreads is used when no usable hint is given.
	DefaultThreads = 4
)

// NoThreadHint is the hint meaning "absent".
func NoThreadHint() float64 {
	return math.NaN()
}

// ClampThreads returns the effective thread count for a hint.
//
// NaN (absent) and 0 give DefaultThreads, anything else is rounded and clamped
// to [MinThreads, MaxThreads].
func ClampThreads(hint float64) int {
	if math.IsNaN(hint) || hint == 0 {
		return DefaultThreads
	}
	rounded := math.Round(hint)
	switch {
	case rounded < MinThreads:
		return MinThreads
	case rounded > MaxThreads:
		return MaxThreads
	}
	return int(rounded)
}

// ParseThreadHint parses a user-provided hint. Non-numeric input is absent.
func ParseThreadHint(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return NoThreadHint()
	}
	return v
}
