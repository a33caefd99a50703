package remux

import (
	"errors"
	"fmt"
	"io"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/media/timebase"
)

// extractLookahead bounds how far past the range end packets are read
const extractLookahead = 5.0

// ExtractRange copies every packet whose time lies in [start, end] into a
// fresh output, shifted so the range starts at zero. The source is first
// positioned on the last keyframe strictly before start.
func ExtractRange(src Source, sink Sink, start, end float64, keyframes clips.KeyframeTable) error {
	video, ok := findStream(src.Streams(), src.VideoStream())
	if !ok {
		return ErrNoVideoStream
	}
	streams := make(map[int]Stream)
	for _, s := range src.Streams() {
		streams[s.Index] = s
	}
	mapping := StreamMapping(src.Streams())

	if err := sink.WriteHeader(); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	if kf, ok := keyframes.Before(start); ok {
		if err := src.Seek(video.Index, timebase.SecsToTicks(kf, video.TimeBase), false); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}

	for {
		p, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}

		out, ok := mapping[p.Stream]
		if !ok || p.Pts == timebase.NoPts {
			continue
		}
		tb := streams[p.Stream].TimeBase

		ts := timebase.TicksToSecs(p.Pts, tb)
		if ts > end+extractLookahead {
			break
		}
		if ts < start || ts > end {
			continue
		}

		skipped := timebase.SecsToTicks(start, tb)
		p.Pts -= skipped
		if p.Dts != timebase.NoPts {
			p.Dts -= skipped
		}
		p.TimeBase = tb
		if err := sink.WritePacket(p, out); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}

	if err := sink.WriteTrailer(); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}
	return nil
}
