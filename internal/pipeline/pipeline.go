package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/keagan/eclipper/internal/cache"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/keagan/eclipper/internal/remux"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators a pipeline is built from
type Deps struct {
	Open        SourceOpener
	Recognizers ocr.Factory
	Sessions    SessionOpener
	// Durable is optional; without it every scan decodes
	Durable *cache.Durable
}

// Pipeline orchestrates scanning a video for highlights and writing them out
type Pipeline struct {
	logger      zerolog.Logger
	open        SourceOpener
	recognizers ocr.Factory
	sessions    SessionOpener
	durable     *cache.Durable
	now         func() time.Time
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, deps Deps) (*Pipeline, error) {
	if deps.Open == nil {
		return nil, fmt.Errorf("pipeline requires a source opener")
	}
	if deps.Recognizers == nil {
		return nil, fmt.Errorf("pipeline requires a recognizer factory")
	}

	return &Pipeline{
		logger:      logger.With().Str("component", "pipeline").Logger(),
		open:        deps.Open,
		recognizers: deps.Recognizers,
		sessions:    deps.Sessions,
		durable:     deps.Durable,
		now:         time.Now,
	}, nil
}

func (p *Pipeline) enter(s State) {
	p.logger.Debug().Stringer("state", s).Msg("scan state")
}

// Scan finds highlight clips in the video at path. A durable cache hit for
// the same file and options returns without decoding. Once workers start
// the scan runs to completion; ctx is only checked before that.
func (p *Pipeline) Scan(ctx context.Context, path string, opts Options, obs Observer) (*Result, error) {
	if path == "" {
		return nil, fmt.Errorf("input path cannot be empty")
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	started := p.now()

	p.enter(StateInitializing)
	p.logger.Info().
		Str("input", path).
		Int("threads", opts.Threads).
		Bool("assists", opts.IncludeAssists).
		Bool("spectating", opts.IncludeSpectating).
		Msg("starting scan")

	src, err := p.open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	duration := src.Duration()
	p.logger.Info().Str("duration", util.FormatSeconds(duration)).Msg("video opened")

	key := cache.Key{IncludeSpectating: opts.IncludeSpectating, IncludeAssists: opts.IncludeAssists}
	var keyframes clips.KeyframeTable
	if p.durable != nil {
		cached, kf, ok := p.durable.Lookup(path, key)
		if ok {
			src.Close()
			p.logger.Info().Int("clips", len(cached)).Msg("using cached clips")
			p.enter(StateDone)
			return &Result{Clips: cached, Keyframes: kf, InputDuration: duration, Cached: true}, nil
		}
		keyframes = kf
	}

	if len(keyframes) == 0 {
		kfStart := p.now()
		keyframes, err = src.Keyframes()
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to index keyframes: %w", err)
		}
		metrics.ScanDuration.WithLabelValues("keyframes").Observe(p.now().Sub(kfStart).Seconds())
	}
	src.Close()

	if err := keyframes.Validate(); err != nil {
		return nil, err
	}
	if len(keyframes) == 0 {
		return nil, fmt.Errorf("video has no keyframes")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.enter(StatePartitioning)
	segments := Partition(duration, keyframes, opts.Threads)

	p.enter(StateScanning)
	results, err := p.scanSegments(path, segments, opts, duration, obs)
	if err != nil {
		return nil, err
	}
	metrics.ScanDuration.WithLabelValues("scan").Observe(p.now().Sub(started).Seconds())

	p.enter(StatePostProcessing)
	cs := clips.PostProcess(results, keyframes)
	for _, c := range cs {
		p.logger.Info().
			Str("at", util.FormatSeconds(c.Start)).
			Float64("duration", c.Duration()).
			Msg("clip")
	}

	if p.durable != nil {
		p.durable.Store(path, key, cs, keyframes)
	}

	p.enter(StateDone)
	p.logger.Info().
		Int("clips", len(cs)).
		Str("total", util.FormatSeconds(clips.TotalDuration(cs))).
		Dur("elapsed", p.now().Sub(started)).
		Msg("scan complete")

	return &Result{Clips: cs, Keyframes: keyframes, InputDuration: duration}, nil
}

// scanSegments runs one worker per segment and aggregates their progress.
// Any worker failure fails the scan.
func (p *Pipeline) scanSegments(path string, segments []Segment, opts Options, duration float64, obs Observer) ([][]clips.Clip, error) {
	previews := newPreviewQueue(obs.OnPreview)
	defer previews.close()

	channels := make([]chan float64, len(segments))
	results := make([][]clips.Clip, len(segments))

	var g errgroup.Group
	for i, seg := range segments {
		channels[i] = make(chan float64, len(segments))
		w := &worker{
			segment:  seg,
			path:     path,
			opts:     opts,
			p:        p,
			progress: channels[i],
			previews: previews,
			logger:   p.logger.With().Int("worker", seg.Index).Logger(),
		}
		g.Go(func() error {
			cs, err := w.run()
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.Index, err)
			}
			results[seg.Index] = cs
			return nil
		})
	}

	p.enter(StateAggregating)
	agg := &aggregator{duration: duration, now: p.now, report: obs.OnProgress}
	final := agg.run(channels)

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	p.logger.Debug().Float64("progress", final.Percent).Msg("all workers finished")
	return results, nil
}

// Extract writes clips from input into output, back to back
func (p *Pipeline) Extract(ctx context.Context, input, output string, cs []clips.Clip, keyframes clips.KeyframeTable) error {
	if p.sessions == nil {
		return fmt.Errorf("pipeline has no remux session opener")
	}
	if len(cs) == 0 {
		return fmt.Errorf("no clips to extract")
	}

	p.logger.Info().
		Str("input", input).
		Str("output", output).
		Int("clips", len(cs)).
		Str("total", util.FormatSeconds(clips.TotalDuration(cs))).
		Msg("extracting clips")

	session, err := p.sessions(input, output)
	if err != nil {
		return fmt.Errorf("failed to open remux session: %w", err)
	}
	defer session.Close()

	if err := remux.WriteClips(ctx, session.Source(), session.Sink(), cs, keyframes, p.logger); err != nil {
		return fmt.Errorf("failed to write clips: %w", err)
	}

	p.logger.Info().Str("output", output).Msg("extraction complete")
	return nil
}
