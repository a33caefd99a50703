package engine

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/config"
	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/imaging"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/keagan/eclipper/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flashSource is a 10 second, 10 fps video whose frame 50 is white
type flashSource struct {
	pos, cur int
}

func (s *flashSource) Duration() float64  { return 10 }
func (s *flashSource) FrameRate() float64 { return 10 }
func (s *flashSource) Keyframes() (clips.KeyframeTable, error) {
	return clips.KeyframeTable{0, 2, 4, 6, 8, 10}, nil
}
func (s *flashSource) Seek(secs float64) error { s.pos = int(secs * 10); return nil }
func (s *flashSource) Next() (int64, float64, error) {
	if s.pos >= 100 {
		return 0, 0, io.EOF
	}
	s.cur = s.pos
	s.pos++
	return int64(s.cur), float64(s.cur) / 10, nil
}
func (s *flashSource) RGB() (*framebuf.RGB, error) {
	f := framebuf.NewRGB(2, 2)
	if s.cur == 50 {
		for i := range f.Pix {
			f.Pix[i] = 255
		}
	}
	return f, nil
}
func (s *flashSource) Close() error { return nil }

type echoRecognizer struct{ text string }

func (r echoRecognizer) Recognize(*framebuf.RGB, framebuf.Rect) (string, error) { return r.text, nil }
func (echoRecognizer) Close() error                                             { return nil }

type transcodeCounter struct {
	calls     int
	paths     []string
	keyframes []clips.KeyframeTable
}

func (c *transcodeCounter) transcode(path string, start, end float64, kf clips.KeyframeTable) ([]byte, error) {
	c.calls++
	c.paths = append(c.paths, path)
	c.keyframes = append(c.keyframes, kf)
	return []byte(path), nil
}

func newTestEngine(t *testing.T, tc *transcodeCounter) *Engine {
	t.Helper()
	e, err := New(config.Default(), zerolog.Nop(), Deps{
		Open:        func(string) (pipeline.VideoSource, error) { return &flashSource{}, nil },
		Recognizers: func() (ocr.Recognizer, error) { return echoRecognizer{text: "hello"}, nil },
		Transcode:   tc.transcode,
	})
	require.NoError(t, err)
	return e
}

func video(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0644))
	return path
}

var flash = []detect.Profile{&detect.AveragePixelValue{Name: "flash", Threshold: 200, Before: 1, After: 1}}

func TestClipRequiresVideo(t *testing.T) {
	e := newTestEngine(t, &transcodeCounter{})
	_, err := e.Clip(context.Background(), 0, 2)
	assert.ErrorIs(t, err, ErrNoVideo)
	assert.ErrorIs(t, e.Extract(context.Background(), []clips.Clip{{Start: 0, End: 2}}, nil, "out.mp4"), ErrNoVideo)
}

func TestScanPopulatesStateAndFrames(t *testing.T) {
	tc := &transcodeCounter{}
	e := newTestEngine(t, tc)
	path := video(t, "a.mp4")

	opts := e.ScanOptions()
	opts.Profiles = flash
	res, err := e.Scan(context.Background(), path, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, []clips.Clip{{Start: 4, End: 6}}, res.Clips)

	current, kf := e.Current()
	assert.Equal(t, path, current)
	assert.Equal(t, res.Keyframes, kf)

	data, ok := e.Frame(50)
	require.True(t, ok, "matched frame cached")
	assert.Equal(t, byte('B'), data[0])

	_, ok = e.Frame(51)
	assert.False(t, ok)
}

func TestClipCachesTranscodes(t *testing.T) {
	tc := &transcodeCounter{}
	e := newTestEngine(t, tc)
	path := video(t, "a.mp4")
	opts := e.ScanOptions()
	opts.Profiles = flash
	_, err := e.Scan(context.Background(), path, opts, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		data, err := e.Clip(context.Background(), 4, 6)
		require.NoError(t, err)
		assert.Equal(t, path, string(data))
	}
	assert.Equal(t, 1, tc.calls)

	_, err = e.Clip(context.Background(), 6, 4)
	assert.Error(t, err)
}

func TestSwitchingVideoPurgesCaches(t *testing.T) {
	tc := &transcodeCounter{}
	e := newTestEngine(t, tc)
	opts := e.ScanOptions()
	opts.Profiles = flash

	first := video(t, "a.mp4")
	_, err := e.Scan(context.Background(), first, opts, nil)
	require.NoError(t, err)
	_, err = e.Clip(context.Background(), 4, 6)
	require.NoError(t, err)

	second := video(t, "b.mp4")
	opts.Profiles = []detect.Profile{&detect.TextMatch{
		Name:     "never",
		Patterns: []string{"zzz"},
		Area:     detect.Area{Width: 1, Height: 1},
	}}
	_, err = e.Scan(context.Background(), second, opts, nil)
	require.NoError(t, err)

	_, ok := e.Frame(50)
	assert.False(t, ok, "frames of the previous video dropped")

	data, err := e.Clip(context.Background(), 4, 6)
	require.NoError(t, err)
	assert.Equal(t, second, string(data))
	assert.Equal(t, 2, tc.calls)
}

func TestRescanKeepsKeyframes(t *testing.T) {
	tc := &transcodeCounter{}
	e := newTestEngine(t, tc)
	path := video(t, "a.mp4")
	opts := e.ScanOptions()
	opts.Profiles = flash

	first, err := e.Scan(context.Background(), path, opts, nil)
	require.NoError(t, err)

	// a different key misses the durable cache, so the second scan runs workers
	opts.IncludeAssists = !opts.IncludeAssists
	served := false
	_, err = e.Scan(context.Background(), path, opts, func(pipeline.Progress) {
		if served {
			return
		}
		served = true
		_, err := e.Clip(context.Background(), 2, 4)
		assert.NoError(t, err)
	})
	require.NoError(t, err)

	require.True(t, served)
	require.Len(t, tc.keyframes, 1)
	assert.Equal(t, first.Keyframes, tc.keyframes[0], "clips served mid-scan seek with the known table")
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 128, B: 30, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "shot.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestPreviewFilter(t *testing.T) {
	e := newTestEngine(t, &transcodeCounter{})
	path := writePNG(t, 64, 32)

	res, err := e.PreviewFilter(path, PreviewFilter{
		Binarize: &detect.Thresholds{MinRGB: [3]uint8{0, 0, 0}, MaxRGB: [3]uint8{100, 255, 255}},
	}, 16, imaging.FilterBilinear)
	require.NoError(t, err)

	assert.Equal(t, 32, res.Width)
	assert.Equal(t, 16, res.Height)
	assert.True(t, strings.HasPrefix(res.Image, "data:image/bmp;base64,"))

	n := len(detect.TextProfiles(detect.DefaultProfiles()))
	assert.Equal(t, strings.Repeat("\n hello", n), res.Text)
}

func TestPreviewFilterBrightnessContrast(t *testing.T) {
	e := newTestEngine(t, &transcodeCounter{})
	path := writePNG(t, 40, 20)

	res, err := e.PreviewFilter(path, PreviewFilter{
		BrightnessContrast: &BrightnessContrast{Brightness: -0.2, Contrast: 10},
	}, 20, imaging.FilterLanczos3)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Width)
}

func TestPreviewFilterRequiresOneFilter(t *testing.T) {
	e := newTestEngine(t, &transcodeCounter{})
	_, err := e.PreviewFilter("missing.png", PreviewFilter{}, 10, imaging.FilterBilinear)
	assert.Error(t, err)
}
