package media

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/media/timebase"
	"github.com/rs/zerolog"
)

// Frame is a decoded video frame. It is only valid until the next call to
// Next on the decoder that produced it.
type Frame struct {
	Pts  int64
	Time float64

	frame *astiav.Frame
}

// Decoder decodes the primary video stream of a container. A Decoder is
// owned by one goroutine.
type Decoder struct {
	path   string
	logger zerolog.Logger

	fc    *astiav.FormatContext
	cc    *astiav.CodecContext
	hw    *astiav.HardwareDeviceContext
	video *astiav.Stream
	tb    timebase.Rational
	info  VideoInfo

	hwFormat astiav.PixelFormat

	pkt      *astiav.Packet
	frame    *astiav.Frame
	swFrame  *astiav.Frame
	rgbFrame *astiav.Frame

	scaler       *astiav.SoftwareScaleContext
	scalerFormat astiav.PixelFormat
	scalerWidth  int
	scalerHeight int

	draining bool
}

// Open opens a container and prepares a decoder for its video stream. With
// hardware acceleration a device context is required; failing to create one
// is an error rather than a silent software fallback.
func Open(path string, opts Options, logger zerolog.Logger) (*Decoder, error) {
	quietLibav()

	d := &Decoder{
		path:     path,
		logger:   logger.With().Str("component", "decoder").Str("path", path).Logger(),
		hwFormat: astiav.PixelFormatNone,
	}

	if err := d.open(opts); err != nil {
		d.Close()
		return nil, err
	}

	d.logger.Debug().
		Float64("duration", d.info.Duration).
		Float64("fps", d.info.FPS).
		Int("width", d.info.Width).
		Int("height", d.info.Height).
		Str("codec", d.info.VideoCodec).
		Bool("hw_accel", opts.HardwareAccel).
		Msg("decoder opened")

	return d, nil
}

func (d *Decoder) open(opts Options) error {
	d.fc = astiav.AllocFormatContext()
	if d.fc == nil {
		return &DecodeError{Op: "open", Path: d.path, Err: errors.New("failed to allocate format context")}
	}
	if err := d.fc.OpenInput(d.path, nil, nil); err != nil {
		d.fc.Free()
		d.fc = nil
		return &DecodeError{Op: "open", Path: d.path, Err: err}
	}
	if err := d.fc.FindStreamInfo(nil); err != nil {
		return &DecodeError{Op: "find stream info", Path: d.path, Err: err}
	}

	// skips attached pictures and prefers the stream with a usable decoder
	video, codec, err := d.fc.FindBestStream(astiav.MediaTypeVideo, -1, -1)
	if err != nil || video == nil {
		if err == nil {
			err = errors.New("no video stream")
		}
		return &DecodeError{Op: "find video stream", Path: d.path, Err: err}
	}
	d.video = video
	d.tb = fromAstiav(d.video.TimeBase())

	if codec == nil {
		codec = astiav.FindDecoder(d.video.CodecParameters().CodecID())
	}
	if codec == nil {
		return &DecodeError{Op: "find decoder", Path: d.path, Err: fmt.Errorf("no decoder for %s", d.video.CodecParameters().CodecID().Name())}
	}

	d.cc = astiav.AllocCodecContext(codec)
	if d.cc == nil {
		return &DecodeError{Op: "alloc codec context", Path: d.path, Err: errors.New("allocation failed")}
	}
	if err := d.video.CodecParameters().ToCodecContext(d.cc); err != nil {
		return &DecodeError{Op: "copy codec parameters", Path: d.path, Err: err}
	}

	if opts.HardwareAccel {
		if err := d.setupHardware(codec); err != nil {
			return &DecodeError{Op: OpHardwareSetup, Path: d.path, Err: err}
		}
	}

	if err := d.cc.Open(codec, nil); err != nil {
		return &DecodeError{Op: "open codec", Path: d.path, Err: err}
	}

	d.pkt = astiav.AllocPacket()
	d.frame = astiav.AllocFrame()
	d.swFrame = astiav.AllocFrame()
	d.rgbFrame = astiav.AllocFrame()

	d.info = readInfo(d.path, d.fc, d.video)
	return nil
}

// setupHardware selects a device-context capable hardware config, preferring
// CUDA or DXVA2, and installs the pixel format negotiation callback
func (d *Decoder) setupHardware(codec *astiav.Codec) error {
	var candidates []astiav.CodecHardwareConfig
	for _, cfg := range codec.HardwareConfigs() {
		if cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) {
			candidates = append(candidates, cfg)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("decoder %s has no hardware device configs", codec.Name())
	}

	chosen := candidates[0]
	for _, cfg := range candidates {
		t := cfg.HardwareDeviceType()
		if t == astiav.HardwareDeviceTypeCUDA || t == astiav.HardwareDeviceTypeDXVA2 {
			chosen = cfg
			break
		}
	}

	hw, err := astiav.CreateHardwareDeviceContext(chosen.HardwareDeviceType(), "", nil, 0)
	if err != nil {
		return fmt.Errorf("failed to create %s device: %w", chosen.HardwareDeviceType(), err)
	}
	d.hw = hw
	d.hwFormat = chosen.PixelFormat()

	d.cc.SetHardwareDeviceContext(hw)
	d.cc.SetPixelFormatCallback(func(offered []astiav.PixelFormat) astiav.PixelFormat {
		return NegotiatePixelFormat(d.hwFormat, offered)
	})

	d.logger.Info().
		Str("device", chosen.HardwareDeviceType().String()).
		Str("pixel_format", d.hwFormat.String()).
		Msg("hardware decoding enabled")
	return nil
}

// Info returns metadata read when the container was opened
func (d *Decoder) Info() VideoInfo {
	return d.info
}

// TimeBase returns the video stream timebase
func (d *Decoder) TimeBase() timebase.Rational {
	return d.tb
}

// Next returns the next decoded frame, or io.EOF once the stream and the
// decoder's buffered frames are exhausted
func (d *Decoder) Next() (*Frame, error) {
	for {
		err := d.cc.ReceiveFrame(d.frame)
		if err == nil {
			pts := d.frame.Pts()
			return &Frame{Pts: pts, Time: timebase.TicksToSecs(pts, d.tb), frame: d.frame}, nil
		}
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return nil, &DecodeError{Op: "receive frame", Path: d.path, Err: err}
		}
		if d.draining {
			return nil, io.EOF
		}

		if err := d.readVideoPacket(); err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			d.draining = true
			if err := d.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				return nil, &DecodeError{Op: "flush decoder", Path: d.path, Err: err}
			}
			continue
		}

		err = d.cc.SendPacket(d.pkt)
		d.pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return nil, &DecodeError{Op: "send packet", Path: d.path, Err: err}
		}
	}
}

func (d *Decoder) readVideoPacket() error {
	for {
		if err := d.fc.ReadFrame(d.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return io.EOF
			}
			return &DecodeError{Op: "read packet", Path: d.path, Err: err}
		}
		if d.pkt.StreamIndex() == d.video.Index() {
			return nil
		}
		d.pkt.Unref()
	}
}

// Seek positions the demuxer on the nearest keyframe at or before secs.
// It must be called before decoding starts.
func (d *Decoder) Seek(secs float64) error {
	ts := timebase.SecsToTicks(secs, d.tb)
	if err := d.fc.SeekFrame(d.video.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return &DecodeError{Op: "seek", Path: d.path, Err: err}
	}
	d.draining = false
	return nil
}

// Keyframes scans every packet of the video stream, collects the times of
// key packets and rewinds to the start
func (d *Decoder) Keyframes() (clips.KeyframeTable, error) {
	keyframes := make(clips.KeyframeTable, 0)
	for {
		err := d.fc.ReadFrame(d.pkt)
		if errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return nil, &DecodeError{Op: "scan keyframes", Path: d.path, Err: err}
		}
		if d.pkt.StreamIndex() == d.video.Index() &&
			d.pkt.Flags().Has(astiav.PacketFlagKey) &&
			d.pkt.Pts() != timebase.NoPts {
			keyframes = append(keyframes, timebase.TicksToSecs(d.pkt.Pts(), d.tb))
		}
		d.pkt.Unref()
	}

	if err := d.Seek(0); err != nil {
		return nil, err
	}
	if err := keyframes.Validate(); err != nil {
		return nil, &DecodeError{Op: "scan keyframes", Path: d.path, Err: err}
	}

	d.logger.Debug().Int("keyframes", len(keyframes)).Msg("keyframe scan complete")
	return keyframes, nil
}

// RGB24 converts a decoded frame into a packed RGB buffer. Hardware frames
// are first transferred to host memory; the conversion context is rebuilt
// whenever the input format or size changes.
func (d *Decoder) RGB24(f *Frame) (*framebuf.RGB, error) {
	src := f.frame
	if d.hwFormat != astiav.PixelFormatNone && src.PixelFormat() == d.hwFormat {
		d.swFrame.Unref()
		if err := src.TransferHardwareData(d.swFrame); err != nil {
			return nil, fmt.Errorf("failed to transfer hardware frame: %w", err)
		}
		d.swFrame.SetPts(src.Pts())
		src = d.swFrame
	}

	w, h := src.Width(), src.Height()
	if d.scaler == nil || d.scalerFormat != src.PixelFormat() || d.scalerWidth != w || d.scalerHeight != h {
		if err := d.rebuildScaler(src); err != nil {
			return nil, err
		}
	}

	if err := d.scaler.ScaleFrame(src, d.rgbFrame); err != nil {
		return nil, fmt.Errorf("failed to convert frame to rgb: %w", err)
	}

	pix, err := d.rgbFrame.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("failed to read rgb frame: %w", err)
	}
	return framebuf.WrapRGB(w, h, pix)
}

func (d *Decoder) rebuildScaler(src *astiav.Frame) error {
	if d.scaler != nil {
		d.scaler.Free()
		d.scaler = nil
	}

	w, h := src.Width(), src.Height()
	scaler, err := astiav.CreateSoftwareScaleContext(
		w, h, src.PixelFormat(),
		w, h, astiav.PixelFormatRgb24,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagArea),
	)
	if err != nil {
		return fmt.Errorf("failed to create scale context: %w", err)
	}

	d.rgbFrame.Unref()
	d.rgbFrame.SetWidth(w)
	d.rgbFrame.SetHeight(h)
	d.rgbFrame.SetPixelFormat(astiav.PixelFormatRgb24)
	if err := d.rgbFrame.AllocBuffer(1); err != nil {
		scaler.Free()
		return fmt.Errorf("failed to allocate rgb frame: %w", err)
	}

	d.scaler = scaler
	d.scalerFormat = src.PixelFormat()
	d.scalerWidth, d.scalerHeight = w, h
	d.logger.Debug().Str("format", d.scalerFormat.String()).Msg("rgb conversion context created")
	return nil
}

// Close releases every libav resource held by the decoder
func (d *Decoder) Close() error {
	if d.scaler != nil {
		d.scaler.Free()
	}
	for _, f := range []*astiav.Frame{d.frame, d.swFrame, d.rgbFrame} {
		if f != nil {
			f.Free()
		}
	}
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.cc != nil {
		d.cc.Free()
	}
	if d.hw != nil {
		d.hw.Free()
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
	}
	return nil
}
