package clips

import (
	"encoding/json"
	"fmt"
	"math"
)

// Clip represents a half-open time range [Start, End) in seconds
type Clip struct {
	Start float64
	End   float64
}

// Duration returns the clip length in seconds
func (c Clip) Duration() float64 {
	return c.End - c.Start
}

// Overlaps reports whether next starts at or before the end of c
func (c Clip) Overlaps(next Clip) bool {
	return next.Start <= c.End
}

// MarshalJSON encodes the clip as a [start, end] pair
func (c Clip) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Start, c.End})
}

// UnmarshalJSON decodes a [start, end] pair
func (c *Clip) UnmarshalJSON(b []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("clip must be a [start, end] pair: %w", err)
	}
	c.Start, c.End = pair[0], pair[1]
	return nil
}

// List accumulates match windows for one scan segment, merging each new
// window into the previous one when they overlap
type List struct {
	clips []Clip
}

// NewList creates an empty clip list
func NewList() *List {
	return &List{clips: make([]Clip, 0)}
}

// Push adds a window. When the previous entry reaches the new start, the
// previous end is moved to the new end instead of appending.
func (l *List) Push(c Clip) {
	if n := len(l.clips); n > 0 {
		last := &l.clips[n-1]
		if last.End >= c.Start {
			last.End = c.End
			return
		}
	}
	l.clips = append(l.clips, Clip{Start: math.Max(c.Start, 0), End: c.End})
}

// All returns the accumulated clips
func (l *List) All() []Clip {
	return l.clips
}

// Len returns the number of clips
func (l *List) Len() int {
	return len(l.clips)
}

// TotalDuration sums the duration of all clips
func TotalDuration(cs []Clip) float64 {
	var total float64
	for _, c := range cs {
		total += c.Duration()
	}
	return total
}
