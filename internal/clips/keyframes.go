package clips

import (
	"fmt"
	"sort"
)

// KeyframeTable holds the ascending times in seconds of every key frame of
// the primary video stream
type KeyframeTable []float64

// Validate checks the table is non-decreasing
func (k KeyframeTable) Validate() error {
	for i := 1; i < len(k); i++ {
		if k[i] < k[i-1] {
			return fmt.Errorf("keyframe table not sorted at index %d: %f < %f", i, k[i], k[i-1])
		}
	}
	return nil
}

// SearchIndex returns the index of the first keyframe >= t, clamped to the
// last entry. The table must not be empty.
func (k KeyframeTable) SearchIndex(t float64) int {
	i := sort.SearchFloat64s(k, t)
	if i >= len(k) {
		i = len(k) - 1
	}
	return i
}

// AtOrAfter returns the first keyframe >= t, or the last keyframe when t is
// beyond the table. ok is false for an empty table.
func (k KeyframeTable) AtOrAfter(t float64) (float64, bool) {
	if len(k) == 0 {
		return 0, false
	}
	return k[k.SearchIndex(t)], true
}

// Before returns the latest keyframe strictly before t
func (k KeyframeTable) Before(t float64) (float64, bool) {
	i := sort.SearchFloat64s(k, t)
	if i == 0 {
		return 0, false
	}
	return k[i-1], true
}

// Contains reports whether t is exactly one of the keyframes
func (k KeyframeTable) Contains(t float64) bool {
	i := sort.SearchFloat64s(k, t)
	return i < len(k) && k[i] == t
}

// Clone returns an independent copy
func (k KeyframeTable) Clone() KeyframeTable {
	if k == nil {
		return nil
	}
	out := make(KeyframeTable, len(k))
	copy(out, k)
	return out
}
