package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/keagan/eclipper/internal/media/timebase"
	"github.com/keagan/eclipper/internal/remux"
)

// Options configures decoder creation
type Options struct {
	HardwareAccel bool
}

// VideoInfo contains metadata about an opened video file
type VideoInfo struct {
	Path       string
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	TimeBase   timebase.Rational
	VideoCodec string
	HasAudio   bool
	AudioCodec string
}

// OpHardwareSetup is the DecodeError operation for a failed accelerator
// device setup
const OpHardwareSetup = "hardware setup"

// DecodeError reports a failure opening or reading a container
type DecodeError struct {
	Op   string
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsHardwareFailure reports whether err came from setting up the hardware
// accelerator. Only those opens are worth retrying in software.
func IsHardwareFailure(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Op == OpHardwareSetup
}

var logLevelOnce sync.Once

func quietLibav() {
	logLevelOnce.Do(func() {
		astiav.SetLogLevel(astiav.LogLevelError)
	})
}

func fromAstiav(r astiav.Rational) timebase.Rational {
	return timebase.Rational{Num: r.Num(), Den: r.Den()}
}

func toAstiav(r timebase.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func streamKind(t astiav.MediaType) remux.Kind {
	switch t {
	case astiav.MediaTypeVideo:
		return remux.KindVideo
	case astiav.MediaTypeAudio:
		return remux.KindAudio
	case astiav.MediaTypeSubtitle:
		return remux.KindSubtitle
	default:
		return remux.KindOther
	}
}

// containerDuration converts a container duration to seconds, zero when unknown
func containerDuration(fc *astiav.FormatContext) float64 {
	d := fc.Duration()
	if d == timebase.NoPts || d < 0 {
		return 0
	}
	return timebase.TicksToSecs(d, timebase.AVTimeBase)
}

func frameRate(s *astiav.Stream) float64 {
	r := fromAstiav(s.RFrameRate())
	if !r.Valid() {
		r = fromAstiav(s.AvgFrameRate())
	}
	return r.Float64()
}

func readInfo(path string, fc *astiav.FormatContext, video *astiav.Stream) VideoInfo {
	params := video.CodecParameters()
	info := VideoInfo{
		Path:       path,
		Duration:   containerDuration(fc),
		Width:      params.Width(),
		Height:     params.Height(),
		FPS:        frameRate(video),
		TimeBase:   fromAstiav(video.TimeBase()),
		VideoCodec: params.CodecID().Name(),
	}

	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			info.HasAudio = true
			info.AudioCodec = s.CodecParameters().CodecID().Name()
			break
		}
	}
	return info
}

// NegotiatePixelFormat picks the decoder output format: the accelerator's
// format when the decoder offers it, otherwise the first offered format
func NegotiatePixelFormat[T comparable](preferred T, offered []T) T {
	for _, f := range offered {
		if f == preferred {
			return f
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return preferred
}
