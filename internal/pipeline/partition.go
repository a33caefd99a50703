package pipeline

import (
	"math"

	"github.com/keagan/eclipper/internal/clips"
)

// secondsPerWorker caps parallelism for short videos
const secondsPerWorker = 30

// WorkerCount returns how many segments a video of duration is split into
func WorkerCount(duration float64, threads int) int {
	limit := int(math.Ceil(duration/secondsPerWorker)) + 1
	return max(1, min(threads, limit))
}

// Partition splits [0, ceil(duration)] into keyframe-aligned segments. Each
// nominal boundary moves to the first keyframe at or after it; the first
// segment starts at 0 and the last ends at ceil(duration). Neighbouring
// segments may overlap, which post-processing absorbs.
func Partition(duration float64, keyframes clips.KeyframeTable, threads int) []Segment {
	workers := WorkerCount(duration, threads)
	length := duration / float64(workers)
	last := math.Ceil(duration)

	segments := make([]Segment, 0, workers)
	for i := 0; i < workers; i++ {
		var start float64
		if i > 0 {
			start = snapUp(keyframes, float64(i)*length)
		}

		end := last
		if i < workers-1 {
			end = snapUp(keyframes, start+length)
		}

		anchor, ok := keyframes.Before(start)
		if !ok {
			anchor = 0
		}

		segments = append(segments, Segment{
			Index:  i,
			Start:  start,
			End:    end,
			Anchor: anchor,
		})
	}
	return segments
}

// snapUp returns the first keyframe at or after t, the last keyframe when t
// is past the table, or t itself for an empty table
func snapUp(keyframes clips.KeyframeTable, t float64) float64 {
	if k, ok := keyframes.AtOrAfter(t); ok {
		return k
	}
	return t
}

// SampleStep returns the frame stride that yields roughly ten samples per
// second
func SampleStep(fps float64) int {
	return max(1, int(math.Round(fps/10)))
}
