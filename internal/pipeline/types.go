package pipeline

import (
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/remux"
)

// VideoSource is the decoder surface a scan needs. Implementations are not
// safe for concurrent use; every worker opens its own.
type VideoSource interface {
	Duration() float64
	FrameRate() float64
	Keyframes() (clips.KeyframeTable, error)
	// Seek positions the source at the keyframe at or before secs
	Seek(secs float64) error
	// Next decodes the next frame, returning io.EOF at the end of the stream
	Next() (pts int64, secs float64, err error)
	// RGB converts the frame last returned by Next
	RGB() (*framebuf.RGB, error)
	Close() error
}

// SourceOpener opens an independent source for path
type SourceOpener func(path string) (VideoSource, error)

// Session is an open input/output pair for clip writing
type Session interface {
	Source() remux.Source
	Sink() remux.Sink
	Close() error
}

// SessionOpener opens a remux session from input to output
type SessionOpener func(input, output string) (Session, error)

// Options configures a scan
type Options struct {
	Threads           int
	IncludeAssists    bool
	IncludeSpectating bool
	ElimClipDuration  float64
	// Profiles overrides the built-in detection profiles when set
	Profiles []detect.Profile
}

func (o Options) detectOptions() detect.Options {
	return detect.Options{
		IncludeAssists:    o.IncludeAssists,
		IncludeSpectating: o.IncludeSpectating,
		ElimClipDuration:  o.ElimClipDuration,
	}
}

func (o Options) profiles() []detect.Profile {
	if len(o.Profiles) > 0 {
		return o.Profiles
	}
	return detect.DefaultProfiles()
}

// Progress is an aggregated progress update
type Progress struct {
	// Percent is the mean progress of all workers, 0-100
	Percent float64
	// Speed is video seconds scanned per wallclock second
	Speed float64
}

// PreviewFrame is a matched frame emitted while scanning
type PreviewFrame struct {
	Pts     int64
	Time    float64
	Profile string
	Frame   *framebuf.RGB
}

// Observer receives scan updates. Either callback may be nil. OnPreview is
// called from a dedicated goroutine and never blocks the workers.
type Observer struct {
	OnProgress func(Progress)
	OnPreview  func(PreviewFrame)
}

// Segment is one worker's share of the video
type Segment struct {
	Index int
	Start float64
	End   float64
	// Anchor is the last keyframe strictly before Start, 0 if none
	Anchor float64
}

// Result is the outcome of a scan
type Result struct {
	Clips         []clips.Clip        `json:"clips"`
	Keyframes     clips.KeyframeTable `json:"keyframes"`
	InputDuration float64             `json:"input_duration"`
	// Cached is set when the clips came from the durable cache
	Cached bool `json:"cached"`
}

// State is a stage of the scan
type State int

const (
	StateInitializing State = iota
	StatePartitioning
	StateScanning
	StateAggregating
	StatePostProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePartitioning:
		return "partitioning"
	case StateScanning:
		return "scanning"
	case StateAggregating:
		return "aggregating"
	case StatePostProcessing:
		return "post-processing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
