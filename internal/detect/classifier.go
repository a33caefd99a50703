package detect

import (
	"fmt"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/imaging"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog"
)

// neverMatched is the initial last-match time, far enough in the past that
// no debounce is active at the start of a video
const neverMatched = -50000.0

// Options toggles optional detections
type Options struct {
	IncludeAssists    bool
	IncludeSpectating bool
	ElimClipDuration  float64
}

// Match is the result of a successful classification
type Match struct {
	Profile string
	Window  clips.Clip
	Pts     int64
	Time    float64
	// Preview is the full-resolution frame that matched
	Preview *framebuf.RGB
}

// Classifier runs the ordered profiles against sampled frames. It keeps
// per-profile debounce state and is owned by a single scan worker.
type Classifier struct {
	profiles   []Profile
	lastMatch  []float64
	opts       Options
	recognizer ocr.Recognizer
	logger     zerolog.Logger
}

// NewClassifier creates a classifier with fresh debounce state
func NewClassifier(profiles []Profile, recognizer ocr.Recognizer, opts Options, logger zerolog.Logger) *Classifier {
	lastMatch := make([]float64, len(profiles))
	for i := range lastMatch {
		lastMatch[i] = neverMatched
	}

	return &Classifier{
		profiles:   profiles,
		lastMatch:  lastMatch,
		opts:       opts,
		recognizer: recognizer,
		logger:     logger.With().Str("component", "classifier").Logger(),
	}
}

// Ready reports whether any profile is outside its debounce window at t.
// Callers use it to skip pixel conversion of frames nothing would look at.
func (c *Classifier) Ready(t float64) bool {
	for i, profile := range c.profiles {
		if c.lastMatch[i]+profile.Debounce() <= t {
			return true
		}
	}
	return false
}

// Classify evaluates the profiles in priority order and returns the first
// match, or nil
func (c *Classifier) Classify(frame *framebuf.RGB, pts int64, t float64) *Match {
	metrics.FramesSampledTotal.Inc()

	for i, profile := range c.profiles {
		if c.lastMatch[i]+profile.Debounce() > t {
			continue
		}

		var (
			window  clips.Clip
			matched bool
		)

		switch p := profile.(type) {
		case *TextMatch:
			ok, err := c.matchText(p, frame)
			if err != nil {
				metrics.RecognitionErrorsTotal.Inc()
				c.logger.Warn().Err(err).Str("profile", p.Name).Float64("time", t).Msg("text recognition failed")
				continue
			}
			if !ok {
				continue
			}
			before := p.Before
			if p.usesElimDuration() {
				before = c.opts.ElimClipDuration
			}
			window = clips.Clip{Start: t - before, End: t + p.After}
			matched = true

		case *AveragePixelValue:
			if uint64(imaging.MeanValue(frame)) >= uint64(p.Threshold) {
				window = clips.Clip{Start: t - p.Before, End: t + p.After}
				matched = true
			}
		}

		if !matched {
			continue
		}

		c.lastMatch[i] = t
		metrics.MatchesTotal.WithLabelValues(profile.Label()).Inc()
		c.logger.Info().
			Str("profile", profile.Label()).
			Str("at", util.FormatSeconds(t)).
			Msg("found match")

		return &Match{
			Profile: profile.Label(),
			Window:  window,
			Pts:     pts,
			Time:    t,
			Preview: frame,
		}
	}

	return nil
}

func (c *Classifier) matchText(p *TextMatch, frame *framebuf.RGB) (bool, error) {
	if p.Assist && !c.opts.IncludeAssists {
		return false, nil
	}
	if !c.opts.IncludeSpectating && !p.IgnoreSpectating && imaging.IsSpectating(frame) {
		return false, nil
	}

	var work *framebuf.RGB
	if p.ResizeHeight > 0 {
		work = imaging.Scale(frame, p.ResizeHeight, imaging.FilterBilinear)
	} else {
		work = frame.Clone()
	}

	var original *framebuf.RGB
	if p.BrightnessContrast != nil {
		original = work.Clone()
	}

	rect := framebuf.FractionRect(work.W, work.H, p.Area.Top, p.Area.Left, p.Area.Width, p.Area.Height)

	imaging.Binarize(work, p.Binarize.MinRGB, p.Binarize.MaxRGB)
	ok, err := c.recognize(p, work, rect)
	if err != nil || ok || original == nil {
		return ok, err
	}

	// the transform already yields a two-level image; thresholding it again
	// with the profile band would turn it all white
	bc := p.BrightnessContrast
	imaging.BrightnessContrast(original, bc.Brightness, bc.Contrast, bc.Invert)
	ok, err = c.recognize(p, original, rect)
	if ok {
		c.logger.Debug().Str("profile", p.Name).Msg("matched using brightness/contrast")
	}
	return ok, err
}

func (c *Classifier) recognize(p *TextMatch, img *framebuf.RGB, rect framebuf.Rect) (bool, error) {
	text, err := c.recognizer.Recognize(img, rect)
	if err != nil {
		return false, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return p.Matches(ocr.Normalize(text)), nil
}
