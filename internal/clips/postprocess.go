package clips

// startSnapTolerance is how far past a match start the next keyframe may lie
// and still be used as the clip start
const startSnapTolerance = 0.5

// Join concatenates per-segment clip lists in segment order. A trailing clip
// of one segment that reaches the leading clip of the next is coalesced.
func Join(segments [][]Clip) []Clip {
	joined := make([]Clip, 0)
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		next := make([]Clip, len(seg))
		copy(next, seg)

		if n := len(joined); n > 0 {
			last := joined[n-1]
			if last.End >= next[0].Start {
				next[0].Start = last.Start
				joined = joined[:n-1]
			}
		}
		joined = append(joined, next...)
	}
	return joined
}

// SnapToKeyframes moves every boundary onto a keyframe. Starts use the
// keyframe at or after the start unless it is more than half a second later,
// in which case the preceding keyframe is used. Ends use the keyframe at or
// after the end. An empty table leaves the clips unchanged.
func SnapToKeyframes(cs []Clip, keyframes KeyframeTable) []Clip {
	out := make([]Clip, len(cs))
	copy(out, cs)
	if len(keyframes) == 0 {
		return out
	}

	for i := range out {
		startIdx := keyframes.SearchIndex(out[i].Start)
		start := keyframes[startIdx]
		if start-out[i].Start > startSnapTolerance && startIdx > 0 {
			start = keyframes[startIdx-1]
		}
		end := keyframes[keyframes.SearchIndex(out[i].End)]

		out[i].Start = start
		out[i].End = end
	}
	return out
}

// MergeOverlapping walks the clips from the back and folds every clip that
// starts at or before the previous clip's end into it
func MergeOverlapping(cs []Clip) []Clip {
	out := make([]Clip, len(cs))
	copy(out, cs)

	for i := len(out) - 2; i >= 0; i-- {
		next := out[i+1]
		if next.Start <= out[i].End {
			if next.End > out[i].End {
				out[i].End = next.End
			}
			out = append(out[:i+1], out[i+2:]...)
		}
	}
	return out
}

// PostProcess joins segment results, snaps them to keyframes and removes overlaps
func PostProcess(segments [][]Clip, keyframes KeyframeTable) []Clip {
	return MergeOverlapping(SnapToKeyframes(Join(segments), keyframes))
}
