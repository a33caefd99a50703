package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keagan/eclipper/internal/cache"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/ocr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a 10 fps video with a keyframe every 2 seconds. Frames
// listed in bright are white, every other frame is black.
type fakeSource struct {
	frames   int
	bright   map[int]bool
	pos      int
	cur      int
	decoded  *atomic.Int64
	failFrom int
	panicRGB bool
}

func (s *fakeSource) Duration() float64  { return float64(s.frames) / 10 }
func (s *fakeSource) FrameRate() float64 { return 10 }

func (s *fakeSource) Keyframes() (clips.KeyframeTable, error) {
	var kf clips.KeyframeTable
	for i := 0; i <= s.frames; i += 20 {
		kf = append(kf, float64(i)/10)
	}
	return kf, nil
}

func (s *fakeSource) Seek(secs float64) error {
	s.pos = int(secs*10) / 20 * 20
	return nil
}

func (s *fakeSource) Next() (int64, float64, error) {
	if s.pos >= s.frames {
		return 0, 0, io.EOF
	}
	if s.failFrom > 0 && s.pos >= s.failFrom {
		return 0, 0, errors.New("corrupt packet")
	}
	s.cur = s.pos
	s.pos++
	s.decoded.Add(1)
	return int64(s.cur), float64(s.cur) / 10, nil
}

func (s *fakeSource) RGB() (*framebuf.RGB, error) {
	if s.panicRGB {
		panic("scaler exploded")
	}
	f := framebuf.NewRGB(4, 4)
	if s.bright[s.cur] {
		for i := range f.Pix {
			f.Pix[i] = 255
		}
	}
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

type nopRecognizer struct{}

func (nopRecognizer) Recognize(*framebuf.RGB, framebuf.Rect) (string, error) { return "", nil }
func (nopRecognizer) Close() error                                          { return nil }

type fixture struct {
	decoded atomic.Int64
	proto   fakeSource
}

func (f *fixture) opener() SourceOpener {
	return func(string) (VideoSource, error) {
		s := f.proto
		s.decoded = &f.decoded
		return &s, nil
	}
}

func newFixture() *fixture {
	return &fixture{proto: fakeSource{
		frames: 1200,
		bright: map[int]bool{300: true, 301: true, 302: true, 950: true},
	}}
}

var flashProfile = []detect.Profile{
	&detect.AveragePixelValue{Name: "flash", Threshold: 200, Before: 1, After: 1},
}

func newTestPipeline(t *testing.T, f *fixture, durable *cache.Durable) *Pipeline {
	t.Helper()
	p, err := New(zerolog.Nop(), Deps{
		Open:        f.opener(),
		Recognizers: func() (ocr.Recognizer, error) { return nopRecognizer{}, nil },
		Durable:     durable,
	})
	require.NoError(t, err)
	return p
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 1, WorkerCount(10, 8))
	assert.Equal(t, 3, WorkerCount(60, 8))
	assert.Equal(t, 4, WorkerCount(61, 8))
	assert.Equal(t, 2, WorkerCount(3600, 2))
	assert.Equal(t, 1, WorkerCount(3600, 0))
}

func TestPartition(t *testing.T) {
	kf := clips.KeyframeTable{0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30, 31, 32, 33}
	segments := Partition(32.5, kf, 2)

	require.Len(t, segments, 2)
	assert.Equal(t, Segment{Index: 0, Start: 0, End: 18, Anchor: 0}, segments[0])
	assert.Equal(t, Segment{Index: 1, Start: 18, End: 33, Anchor: 16}, segments[1])
}

func TestPartitionBeyondTable(t *testing.T) {
	segments := Partition(100, clips.KeyframeTable{0, 10}, 3)
	require.Len(t, segments, 3)
	for _, s := range segments[1:] {
		assert.Equal(t, 10.0, s.Start, "snaps to the last keyframe")
		assert.Equal(t, 0.0, s.Anchor)
	}
	assert.Equal(t, 100.0, segments[2].End)
}

func TestSampleStep(t *testing.T) {
	assert.Equal(t, 1, SampleStep(10))
	assert.Equal(t, 3, SampleStep(29.97))
	assert.Equal(t, 6, SampleStep(60))
	assert.Equal(t, 1, SampleStep(0))
}

func TestAggregatorMeanAndSpeed(t *testing.T) {
	clock := time.Unix(0, 0)
	a := &aggregator{
		duration: 100,
		now: func() time.Time {
			clock = clock.Add(500 * time.Millisecond)
			return clock
		},
	}
	var updates []Progress
	a.report = func(p Progress) { updates = append(updates, p) }

	first := make(chan float64, 2)
	second := make(chan float64, 2)
	first <- 50
	close(first)
	close(second)

	final := a.run([]chan float64{first, second})

	assert.Equal(t, 100.0, final.Percent)
	assert.Len(t, updates, 3)
	assert.Equal(t, 100.0, updates[len(updates)-1].Percent)
	assert.Greater(t, final.Speed, 0.0)
}

func TestScanFindsClips(t *testing.T) {
	f := newFixture()
	p := newTestPipeline(t, f, nil)

	var (
		mu       sync.Mutex
		previews []PreviewFrame
		progress []Progress
	)
	res, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 4, Profiles: flashProfile}, Observer{
		OnProgress: func(pr Progress) { progress = append(progress, pr) },
		OnPreview: func(pf PreviewFrame) {
			mu.Lock()
			previews = append(previews, pf)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []clips.Clip{{Start: 28, End: 32}, {Start: 94, End: 96}}, res.Clips)
	assert.Equal(t, 120.0, res.InputDuration)
	assert.False(t, res.Cached)
	assert.Len(t, res.Keyframes, 61)

	require.NotEmpty(t, progress)
	assert.Equal(t, 100.0, progress[len(progress)-1].Percent)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, previews, "matches emit previews")
	for _, pf := range previews {
		assert.Equal(t, "flash", pf.Profile)
	}
}

func TestScanSingleWorkerMatchesParallel(t *testing.T) {
	f := newFixture()
	p := newTestPipeline(t, f, nil)

	one, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 1, Profiles: flashProfile}, Observer{})
	require.NoError(t, err)
	many, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 5, Profiles: flashProfile}, Observer{})
	require.NoError(t, err)

	assert.Equal(t, one.Clips, many.Clips)
}

func TestScanClipsAreSnappedAndDisjoint(t *testing.T) {
	f := newFixture()
	f.proto.bright = map[int]bool{}
	for _, i := range []int{55, 90, 100, 333, 600, 601, 1199} {
		f.proto.bright[i] = true
	}
	p := newTestPipeline(t, f, nil)

	res, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 3, Profiles: flashProfile}, Observer{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Clips)

	for i, c := range res.Clips {
		assert.True(t, res.Keyframes.Contains(c.Start), "start %.2f on a keyframe", c.Start)
		assert.True(t, res.Keyframes.Contains(c.End), "end %.2f on a keyframe", c.End)
		assert.Less(t, c.Start, c.End)
		if i > 0 {
			assert.Greater(t, c.Start, res.Clips[i-1].End)
		}
	}
}

func TestScanIsIdempotentThroughDurableCache(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "match.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not really a video"), 0644))

	f := newFixture()
	p := newTestPipeline(t, f, cache.NewDurable(zerolog.Nop()))
	opts := Options{Threads: 4, Profiles: flashProfile}

	first, err := p.Scan(context.Background(), video, opts, Observer{})
	require.NoError(t, err)
	decoded := f.decoded.Load()
	assert.FileExists(t, cache.Path(video))

	second, err := p.Scan(context.Background(), video, opts, Observer{})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Clips, second.Clips)
	assert.Equal(t, first.Keyframes, second.Keyframes)
	assert.Equal(t, decoded, f.decoded.Load(), "no frames decoded on a hit")

	// other options reuse the keyframes but scan again
	opts.IncludeAssists = true
	third, err := p.Scan(context.Background(), video, opts, Observer{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Greater(t, f.decoded.Load(), decoded)
}

func TestScanWorkerFailureFailsScan(t *testing.T) {
	f := newFixture()
	f.proto.failFrom = 700
	p := newTestPipeline(t, f, nil)

	_, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 4, Profiles: flashProfile}, Observer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt packet")
}

func TestScanWorkerPanicBecomesError(t *testing.T) {
	f := newFixture()
	f.proto.panicRGB = true
	p := newTestPipeline(t, f, nil)

	_, err := p.Scan(context.Background(), "match.mp4", Options{Threads: 2, Profiles: flashProfile}, Observer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestScanRejectsCancelledContext(t *testing.T) {
	f := newFixture()
	p := newTestPipeline(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Scan(ctx, "match.mp4", Options{Threads: 2, Profiles: flashProfile}, Observer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.decoded.Load())
}

func TestPreviewQueueDeliversInOrder(t *testing.T) {
	var got []int64
	q := newPreviewQueue(func(f PreviewFrame) { got = append(got, f.Pts) })
	for i := int64(0); i < 100; i++ {
		q.push(PreviewFrame{Pts: i})
	}
	q.close()
	q.push(PreviewFrame{Pts: 1000})

	require.Len(t, got, 100)
	for i, pts := range got {
		assert.EqualValues(t, i, pts)
	}
}

func TestExtractRequiresSessions(t *testing.T) {
	p := newTestPipeline(t, newFixture(), nil)
	err := p.Extract(context.Background(), "in.mp4", "out.mp4", []clips.Clip{{Start: 0, End: 2}}, nil)
	assert.Error(t, err)
}
