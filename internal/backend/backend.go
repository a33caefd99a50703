// Package backend wires the libav decoder and the Tesseract recognizer into
// the engine. It is the only package linking both native libraries.
package backend

import (
	"fmt"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/config"
	"github.com/keagan/eclipper/internal/engine"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/media"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/keagan/eclipper/internal/ocr/tesseract"
	"github.com/keagan/eclipper/internal/pipeline"
	"github.com/keagan/eclipper/internal/remux"
	"github.com/rs/zerolog"
)

// decoderSource adapts a media.Decoder to pipeline.VideoSource
type decoderSource struct {
	d   *media.Decoder
	cur *media.Frame
}

func (s *decoderSource) Duration() float64  { return s.d.Info().Duration }
func (s *decoderSource) FrameRate() float64 { return s.d.Info().FPS }

func (s *decoderSource) Keyframes() (clips.KeyframeTable, error) {
	return s.d.Keyframes()
}

func (s *decoderSource) Seek(secs float64) error {
	s.cur = nil
	return s.d.Seek(secs)
}

func (s *decoderSource) Next() (int64, float64, error) {
	f, err := s.d.Next()
	if err != nil {
		s.cur = nil
		return 0, 0, err
	}
	s.cur = f
	return f.Pts, f.Time, nil
}

func (s *decoderSource) RGB() (*framebuf.RGB, error) {
	if s.cur == nil {
		return nil, fmt.Errorf("no decoded frame")
	}
	return s.d.RGB24(s.cur)
}

func (s *decoderSource) Close() error {
	return s.d.Close()
}

// Opener opens decoders with opts. An open whose accelerator setup fails is
// retried in software.
func Opener(opts media.Options, logger zerolog.Logger) pipeline.SourceOpener {
	return func(path string) (pipeline.VideoSource, error) {
		d, err := media.Open(path, opts, logger)
		if opts.HardwareAccel && media.IsHardwareFailure(err) {
			logger.Warn().Err(err).Str("path", path).Msg("hardware decoding unavailable, falling back to software")
			d, err = media.Open(path, media.Options{}, logger)
		}
		if err != nil {
			return nil, err
		}
		return &decoderSource{d: d}, nil
	}
}

// remuxSession adapts a media.Session to pipeline.Session
type remuxSession struct {
	s *media.Session
}

func (r remuxSession) Source() remux.Source { return r.s.In }
func (r remuxSession) Sink() remux.Sink     { return r.s.Out }
func (r remuxSession) Close() error         { return r.s.Close() }

// Sessions opens file-to-file remux sessions
func Sessions() pipeline.SessionOpener {
	return func(input, output string) (pipeline.Session, error) {
		s, err := media.OpenSession(input, output)
		if err != nil {
			return nil, err
		}
		return remuxSession{s: s}, nil
	}
}

// Recognizers creates Tesseract clients configured from cfg
func Recognizers(cfg config.OCRConfig, logger zerolog.Logger) ocr.Factory {
	return tesseract.Factory(ocr.Options{Language: cfg.Language, DataPath: cfg.DataPath}, logger)
}

// Deps builds the native engine backends from configuration
func Deps(cfg *config.Config, logger zerolog.Logger) engine.Deps {
	return engine.Deps{
		Open:        Opener(media.Options{HardwareAccel: cfg.Scan.HardwareAccel}, logger),
		Recognizers: Recognizers(cfg.OCR, logger),
		Sessions:    Sessions(),
		Transcode:   media.ExtractRange,
	}
}

// NewEngine creates an engine backed by libav and Tesseract
func NewEngine(cfg *config.Config, logger zerolog.Logger) (*engine.Engine, error) {
	return engine.New(cfg, logger, Deps(cfg, logger))
}
