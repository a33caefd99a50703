package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/keagan/eclipper/internal/cache"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/config"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/keagan/eclipper/internal/pipeline"
	"github.com/rs/zerolog"
)

// ErrNoVideo is returned by operations that need a video before one is open
var ErrNoVideo = errors.New("no video open")

// TranscodeFunc remuxes [start, end] of the video at path into memory
type TranscodeFunc func(path string, start, end float64, keyframes clips.KeyframeTable) ([]byte, error)

// Deps are the decoding and recognition backends
type Deps struct {
	Open        pipeline.SourceOpener
	Recognizers ocr.Factory
	Sessions    pipeline.SessionOpener
	Transcode   TranscodeFunc
}

// Engine owns the long-lived state behind the host: the caches and the
// video currently being worked on
type Engine struct {
	cfg         *config.Config
	logger      zerolog.Logger
	pipeline    *pipeline.Pipeline
	recognizers ocr.Factory
	transcode   TranscodeFunc
	clipCache   *cache.ClipCache
	frameCache  *cache.FrameCache

	mu        sync.RWMutex
	path      string
	keyframes clips.KeyframeTable
}

// New creates an engine from configuration and backends
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	p, err := pipeline.New(logger, pipeline.Deps{
		Open:        deps.Open,
		Recognizers: deps.Recognizers,
		Sessions:    deps.Sessions,
		Durable:     cache.NewDurable(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	clipCache, err := cache.NewClipCache(cfg.Cache.ClipCacheEntries, cfg.Cache.ClipCacheBytes, logger)
	if err != nil {
		return nil, err
	}
	frameCache, err := cache.NewFrameCache(cfg.Cache.FrameCacheEntries)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		logger:      logger.With().Str("component", "engine").Logger(),
		pipeline:    p,
		recognizers: deps.Recognizers,
		transcode:   deps.Transcode,
		clipCache:   clipCache,
		frameCache:  frameCache,
	}, nil
}

// ScanOptions builds scan options from the configured defaults
func (e *Engine) ScanOptions() pipeline.Options {
	sc := e.cfg.Scan
	return pipeline.Options{
		Threads:           sc.Threads,
		IncludeAssists:    sc.IncludeAssists,
		IncludeSpectating: sc.IncludeSpectating,
		ElimClipDuration:  sc.ElimClipDuration,
	}
}

// setVideo makes path the current video. Switching videos drops everything
// cached for the previous one. A nil table keeps the known keyframes of an
// unchanged path.
func (e *Engine) setVideo(path string, keyframes clips.KeyframeTable) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.path != path {
		e.clipCache.Purge()
		e.frameCache.Purge()
		e.keyframes = nil
		e.logger.Debug().Str("path", path).Msg("switched video")
	}
	e.path = path
	if keyframes != nil {
		e.keyframes = keyframes
	}
}

// Current returns the current video and its keyframe table
func (e *Engine) Current() (string, clips.KeyframeTable) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path, e.keyframes
}

// Scan scans path, storing matched frames in the frame cache as they arrive
func (e *Engine) Scan(ctx context.Context, path string, opts pipeline.Options, onProgress func(pipeline.Progress)) (*pipeline.Result, error) {
	e.setVideo(path, nil)

	res, err := e.pipeline.Scan(ctx, path, opts, pipeline.Observer{
		OnProgress: onProgress,
		OnPreview: func(f pipeline.PreviewFrame) {
			if err := e.frameCache.Put(f.Pts, f.Frame); err != nil {
				e.logger.Warn().Err(err).Int64("pts", f.Pts).Msg("failed to cache preview frame")
			}
		},
	})
	if err != nil {
		return nil, err
	}

	e.setVideo(path, res.Keyframes)
	return res, nil
}

// Extract writes clips of the current video to output. A nil keyframe
// table uses the one from the last scan.
func (e *Engine) Extract(ctx context.Context, cs []clips.Clip, keyframes clips.KeyframeTable, output string) error {
	path, current := e.Current()
	if path == "" {
		return ErrNoVideo
	}
	if keyframes == nil {
		keyframes = current
	}
	return e.pipeline.Extract(ctx, path, output, cs, keyframes)
}

// ExtractFile writes clips of input to output without touching the
// current video
func (e *Engine) ExtractFile(ctx context.Context, input, output string, cs []clips.Clip, keyframes clips.KeyframeTable) error {
	return e.pipeline.Extract(ctx, input, output, cs, keyframes)
}

// Clip returns the current video's [start, end] as a standalone container,
// transcoding on a cache miss
func (e *Engine) Clip(ctx context.Context, start, end float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("invalid clip range %.2f-%.2f", start, end)
	}

	path, keyframes := e.Current()
	if path == "" {
		return nil, ErrNoVideo
	}
	if e.transcode == nil {
		return nil, fmt.Errorf("engine has no transcoder")
	}

	return e.clipCache.Get(start, end, func(start, end float64) ([]byte, error) {
		return e.transcode(path, start, end, keyframes)
	})
}

// Frame returns the bitmap of a preview frame captured during a scan
func (e *Engine) Frame(pts int64) ([]byte, bool) {
	return e.frameCache.Get(pts)
}
