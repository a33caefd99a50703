package remux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/media/timebase"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog"
)

const (
	// seekBackKeyframes is how many keyframes before the clip start the
	// demuxer is positioned; landing on the start keyframe itself leaves
	// the first dts unset on some inputs
	seekBackKeyframes = 2
	// scanPastEnd bounds how far past a clip end packets are read
	// looking for stragglers from interleaved streams
	scanPastEnd = 10.0
)

// Writer concatenates clips from one source into one sink, shifting every
// packet so clips follow each other without gaps
type Writer struct {
	src     Source
	sink    Sink
	logger  zerolog.Logger
	streams map[int]Stream
	mapping map[int]int
	video   Stream

	// keyframes in video ticks, nil until set or scanned
	keyframes []int64
	// endTS is the output position in video ticks
	endTS int64
}

// NewWriter prepares a session and writes the output header
func NewWriter(src Source, sink Sink, logger zerolog.Logger) (*Writer, error) {
	video, ok := findStream(src.Streams(), src.VideoStream())
	if !ok {
		return nil, ErrNoVideoStream
	}

	streams := make(map[int]Stream)
	for _, s := range src.Streams() {
		streams[s.Index] = s
	}

	if err := sink.WriteHeader(); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &Writer{
		src:     src,
		sink:    sink,
		logger:  logger.With().Str("component", "remux").Logger(),
		streams: streams,
		mapping: StreamMapping(src.Streams()),
		video:   video,
	}, nil
}

// SetKeyframes installs a precomputed keyframe table given in seconds
func (w *Writer) SetKeyframes(secs []float64) {
	w.keyframes = make([]int64, len(secs))
	for i, s := range secs {
		w.keyframes[i] = timebase.SecsToTicks(s, w.video.TimeBase)
	}
}

// Keyframes returns the keyframe table in video ticks, scanning the source
// and rewinding it when none was set
func (w *Writer) Keyframes() ([]int64, error) {
	if w.keyframes != nil {
		return w.keyframes, nil
	}

	keyframes := make([]int64, 0)
	for {
		p, err := w.src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyframes: %w", err)
		}
		if p.Stream == w.video.Index && p.Key && p.Pts != timebase.NoPts {
			keyframes = append(keyframes, p.Pts)
		}
	}

	if err := w.src.Seek(w.video.Index, 0, false); err != nil {
		return nil, fmt.Errorf("failed to rewind after keyframe scan: %w", err)
	}

	w.keyframes = keyframes
	return keyframes, nil
}

// WriteClip copies packets in [from, to) and appends them after the
// previous clip. A clip starting after the last keyframe returns
// ErrNoKeyframe and writes nothing.
func (w *Writer) WriteClip(from, to float64) error {
	keyframes, err := w.Keyframes()
	if err != nil {
		return err
	}

	vtb := w.video.TimeBase
	fromTS := timebase.SecsToTicks(from, vtb)

	idx := sort.Search(len(keyframes), func(i int) bool { return keyframes[i] >= fromTS })
	if idx == len(keyframes) {
		return fmt.Errorf("clip at %s: %w", util.FormatSeconds(from), ErrNoKeyframe)
	}

	seekTo := keyframes[max(idx-seekBackKeyframes, 0)]
	w.logger.Debug().Float64("seek", timebase.TicksToSecs(seekTo, vtb)).Msg("seeking")
	if err := w.src.Seek(w.video.Index, seekTo, true); err != nil {
		return fmt.Errorf("failed to seek to %s: %w", util.FormatSeconds(from), err)
	}

	var (
		firstPts     int64
		haveFirst    bool
		lastPts      int64
		lastDuration int64
	)

	for {
		p, err := w.src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}

		out, ok := w.mapping[p.Stream]
		if !ok {
			continue
		}
		tb := w.streams[p.Stream].TimeBase
		isVideo := p.Stream == w.video.Index
		readPts := p.Pts

		streamFrom := timebase.SecsToTicks(from, tb)
		streamTo := timebase.SecsToTicks(to, tb)

		if p.Pts != timebase.NoPts && p.Pts >= streamFrom && p.Pts < streamTo {
			pts := p.Pts
			if !isVideo {
				pts = timebase.ConvertTimebase(pts, tb, vtb)
			}
			if !haveFirst {
				firstPts, haveFirst = pts, true
			} else if pts < firstPts {
				w.logger.Debug().Int64("pts", pts).Int64("first", firstPts).Msg("packet older than clip start")
				firstPts = pts
			}
			if isVideo && pts > lastPts {
				lastPts = pts
				lastDuration = p.Duration
			}

			first, end := firstPts, w.endTS
			if !isVideo {
				first = timebase.ConvertTimebase(first, vtb, tb)
				end = timebase.ConvertTimebase(end, vtb, tb)
			}
			shift := end - first

			p.Pts += shift
			if p.Dts != timebase.NoPts {
				p.Dts += shift
			}
			p.TimeBase = tb
			if err := w.sink.WritePacket(p, out); err != nil {
				return fmt.Errorf("failed to write packet: %w", err)
			}
		}

		if readPts == timebase.NoPts {
			readPts = 0
		}
		if timebase.TicksToSecs(readPts, tb) > to+scanPastEnd {
			break
		}
	}

	if !haveFirst {
		w.logger.Warn().Float64("from", from).Float64("to", to).Msg("clip produced no packets")
		return nil
	}

	w.endTS += lastPts - firstPts + lastDuration
	metrics.ClipsWrittenTotal.Inc()
	w.logger.Debug().
		Str("from", util.FormatSeconds(from)).
		Str("to", util.FormatSeconds(to)).
		Float64("output_end", timebase.TicksToSecs(w.endTS, vtb)).
		Msg("clip written")
	return nil
}

// Position returns the output length written so far in seconds
func (w *Writer) Position() float64 {
	return timebase.TicksToSecs(w.endTS, w.video.TimeBase)
}

// Duration returns the output length written so far in AVTimeBase units
func (w *Writer) Duration() int64 {
	return timebase.ConvertTimebase(w.endTS, w.video.TimeBase, timebase.AVTimeBase)
}

// Finish writes the trailer
func (w *Writer) Finish() error {
	if err := w.sink.WriteTrailer(); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}
	w.logger.Debug().
		Str("duration", util.FormatSeconds(w.Position())).
		Msg("output finished")
	return nil
}

// WriteClips runs a whole session: every clip in order, then the trailer.
// An empty keyframe table makes the writer scan the source itself.
func WriteClips(ctx context.Context, src Source, sink Sink, cs []clips.Clip, keyframes clips.KeyframeTable, logger zerolog.Logger) error {
	w, err := NewWriter(src, sink, logger)
	if err != nil {
		return err
	}
	if len(keyframes) > 0 {
		w.SetKeyframes(keyframes)
	}

	for i, c := range cs {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.logger.Info().
			Int("clip", i+1).
			Int("total", len(cs)).
			Str("start", util.FormatSeconds(c.Start)).
			Str("end", util.FormatSeconds(c.End)).
			Msg("writing clip")
		err := w.WriteClip(c.Start, c.End)
		if errors.Is(err, ErrNoKeyframe) {
			w.logger.Warn().Err(err).Msg("clip start out of range, skipping")
			continue
		}
		if err != nil {
			return err
		}
	}

	return w.Finish()
}
