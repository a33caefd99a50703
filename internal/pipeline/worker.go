package pipeline

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog"
)

// worker scans one segment with its own source and recognizer
type worker struct {
	segment  Segment
	path     string
	opts     Options
	p        *Pipeline
	progress chan<- float64
	previews *previewQueue
	logger   zerolog.Logger
}

// run scans the segment and closes the progress channel when done. A panic
// is turned into an error.
func (w *worker) run() (cs []clips.Clip, err error) {
	defer close(w.progress)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan worker %d panicked: %v\n%s", w.segment.Index, r, debug.Stack())
		}
	}()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	return w.scan()
}

func (w *worker) scan() ([]clips.Clip, error) {
	seg := w.segment

	src, err := w.p.open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	recognizer, err := w.p.recognizers()
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer recognizer.Close()

	if seg.Anchor > 0 {
		if err := src.Seek(seg.Anchor); err != nil {
			return nil, fmt.Errorf("failed to seek to %.2f: %w", seg.Anchor, err)
		}
	}

	step := SampleStep(src.FrameRate())
	classifier := detect.NewClassifier(w.opts.profiles(), recognizer, w.opts.detectOptions(), w.logger)
	list := clips.NewList()

	w.logger.Info().
		Str("start", util.FormatSeconds(seg.Start)).
		Str("end", util.FormatSeconds(seg.End)).
		Int("step", step).
		Msg("scanning segment")

	span := seg.End - seg.Start
	for n := 0; ; n++ {
		pts, t, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		if n%step != 0 || t < seg.Start {
			continue
		}

		progress := 100.0
		if span > 0 {
			progress = min(100, (t-seg.Start)/span*100)
		}
		w.progress <- progress

		if classifier.Ready(t) {
			frame, err := src.RGB()
			if err != nil {
				return nil, fmt.Errorf("failed to convert frame at %.2f: %w", t, err)
			}
			if m := classifier.Classify(frame, pts, t); m != nil {
				list.Push(m.Window)
				w.previews.push(PreviewFrame{
					Pts:     m.Pts,
					Time:    m.Time,
					Profile: m.Profile,
					Frame:   m.Preview,
				})
			}
		}

		if t >= seg.End {
			break
		}
	}

	w.logger.Info().
		Int("clips", list.Len()).
		Str("segment_end", util.FormatSeconds(seg.End)).
		Msg("segment done")
	return list.All(), nil
}
