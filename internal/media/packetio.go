package media

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/asticode/go-astiav"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/remux"
)

const memoryIOBufferSize = 32768

// Input exposes a demuxer as a remux.Source
type Input struct {
	path    string
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	streams []remux.Stream
	video   int
	packet  remux.Packet
}

// OpenInput opens a container for packet-level copying
func OpenInput(path string) (*Input, error) {
	quietLibav()

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, &DecodeError{Op: "open", Path: path, Err: errors.New("failed to allocate format context")}
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, &DecodeError{Op: "open", Path: path, Err: err}
	}

	in := &Input{path: path, fc: fc, video: -1}
	if err := fc.FindStreamInfo(nil); err != nil {
		in.Close()
		return nil, &DecodeError{Op: "find stream info", Path: path, Err: err}
	}

	for _, s := range fc.Streams() {
		kind := streamKind(s.CodecParameters().MediaType())
		in.streams = append(in.streams, remux.Stream{
			Index:    s.Index(),
			Kind:     kind,
			TimeBase: fromAstiav(s.TimeBase()),
		})
		if kind == remux.KindVideo && in.video < 0 {
			in.video = s.Index()
		}
	}
	// anchor on the same stream the decoder scans. Stream copy needs no
	// decoder, so the first video stream stays the fallback.
	if best, _, err := fc.FindBestStream(astiav.MediaTypeVideo, -1, -1); err == nil && best != nil {
		in.video = best.Index()
	}
	if in.video < 0 {
		in.Close()
		return nil, &DecodeError{Op: "find video stream", Path: path, Err: remux.ErrNoVideoStream}
	}

	in.pkt = astiav.AllocPacket()
	return in, nil
}

func (in *Input) Streams() []remux.Stream {
	return in.streams
}

func (in *Input) VideoStream() int {
	return in.video
}

// ReadPacket reads the next packet of any stream
func (in *Input) ReadPacket() (*remux.Packet, error) {
	in.pkt.Unref()
	if err := in.fc.ReadFrame(in.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, &DecodeError{Op: "read packet", Path: in.path, Err: err}
	}

	idx := in.pkt.StreamIndex()
	if idx < 0 || idx >= len(in.streams) {
		return nil, &DecodeError{Op: "read packet", Path: in.path, Err: fmt.Errorf("packet for unknown stream %d", idx)}
	}

	in.packet = remux.Packet{
		Stream:   idx,
		Pts:      in.pkt.Pts(),
		Dts:      in.pkt.Dts(),
		Duration: in.pkt.Duration(),
		Key:      in.pkt.Flags().Has(astiav.PacketFlagKey),
		TimeBase: in.streams[idx].TimeBase,
		Payload:  in.pkt,
	}
	return &in.packet, nil
}

// Seek moves the demuxer; anyFrame allows landing on non-key packets,
// otherwise the nearest keyframe at or before ts is used
func (in *Input) Seek(stream int, ts int64, anyFrame bool) error {
	flags := astiav.NewSeekFlags(astiav.SeekFlagBackward)
	if anyFrame {
		flags = astiav.NewSeekFlags(astiav.SeekFlagAny)
	}
	if err := in.fc.SeekFrame(stream, ts, flags); err != nil {
		return &DecodeError{Op: "seek", Path: in.path, Err: err}
	}
	return nil
}

// Close releases the demuxer
func (in *Input) Close() error {
	if in.pkt != nil {
		in.pkt.Free()
	}
	in.fc.CloseInput()
	in.fc.Free()
	return nil
}

// Output exposes a muxer as a remux.Sink, writing either to a file or to
// memory
type Output struct {
	fc      *astiav.FormatContext
	ioc     *astiav.IOContext
	streams []*astiav.Stream
	mem     *memoryFile
}

func newOutput(in *Input, name string) (*Output, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, "", name)
	if err != nil {
		return nil, &DecodeError{Op: "create output", Path: name, Err: err}
	}
	out := &Output{fc: fc}

	mapping := remux.StreamMapping(in.streams)
	out.streams = make([]*astiav.Stream, len(mapping))
	for _, ist := range in.fc.Streams() {
		idx, ok := mapping[ist.Index()]
		if !ok {
			continue
		}
		ost := fc.NewStream(nil)
		if ost == nil {
			out.free()
			return nil, &DecodeError{Op: "create output stream", Path: name, Err: errors.New("allocation failed")}
		}
		if err := ist.CodecParameters().Copy(ost.CodecParameters()); err != nil {
			out.free()
			return nil, &DecodeError{Op: "copy stream parameters", Path: name, Err: err}
		}
		// codec tags are container specific
		ost.CodecParameters().SetCodecTag(0)
		ost.SetTimeBase(ist.TimeBase())
		out.streams[idx] = ost
	}

	return out, nil
}

// CreateFile creates an output file muxing the copied streams of in. The
// container format is guessed from the file name.
func CreateFile(in *Input, path string) (*Output, error) {
	out, err := newOutput(in, path)
	if err != nil {
		return nil, err
	}

	if !out.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioc, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			out.free()
			return nil, &DecodeError{Op: "open output", Path: path, Err: err}
		}
		out.ioc = ioc
		out.fc.SetPb(ioc)
	}
	return out, nil
}

// CreateMemory creates an in-memory output. name only selects the
// container format.
func CreateMemory(in *Input, name string) (*Output, error) {
	out, err := newOutput(in, name)
	if err != nil {
		return nil, err
	}

	out.mem = &memoryFile{}
	ioc, err := astiav.AllocIOContext(memoryIOBufferSize, true, nil, out.mem.seek, out.mem.Write)
	if err != nil {
		out.free()
		return nil, &DecodeError{Op: "create memory output", Path: name, Err: err}
	}
	out.ioc = ioc
	out.fc.SetPb(ioc)
	return out, nil
}

func (o *Output) WriteHeader() error {
	return o.fc.WriteHeader(nil)
}

// WritePacket rescales the packet to the output stream's timebase and hands
// it to the interleaving muxer
func (o *Output) WritePacket(p *remux.Packet, out int) error {
	pkt, ok := p.Payload.(*astiav.Packet)
	if !ok {
		return fmt.Errorf("packet payload is %T, not a libav packet", p.Payload)
	}
	if out < 0 || out >= len(o.streams) {
		return fmt.Errorf("no output stream %d", out)
	}

	pkt.SetPts(p.Pts)
	pkt.SetDts(p.Dts)
	pkt.RescaleTs(toAstiav(p.TimeBase), o.streams[out].TimeBase())
	pkt.SetPos(-1)
	pkt.SetStreamIndex(out)
	return o.fc.WriteInterleavedFrame(pkt)
}

// WriteTrailer finalizes the container
func (o *Output) WriteTrailer() error {
	return o.fc.WriteTrailer()
}

// Bytes returns the muxed data of an in-memory output
func (o *Output) Bytes() []byte {
	if o.mem == nil {
		return nil
	}
	return o.mem.Bytes()
}

func (o *Output) free() {
	if o.ioc != nil {
		if o.mem != nil {
			o.ioc.Free()
		} else {
			o.ioc.Close()
		}
		o.ioc = nil
	}
	if o.fc != nil {
		o.fc.Free()
		o.fc = nil
	}
}

// Close flushes and releases the muxer
func (o *Output) Close() error {
	o.free()
	return nil
}

// Session pairs a demuxer with a file muxer for clip writing
type Session struct {
	In  *Input
	Out *Output
}

// OpenSession opens input and creates output for a remux session
func OpenSession(input, output string) (*Session, error) {
	in, err := OpenInput(input)
	if err != nil {
		return nil, err
	}
	out, err := CreateFile(in, output)
	if err != nil {
		in.Close()
		return nil, err
	}
	return &Session{In: in, Out: out}, nil
}

// Close releases both ends of the session
func (s *Session) Close() error {
	s.Out.Close()
	return s.In.Close()
}

// ExtractRange remuxes [start, end] of the file into an in-memory container
// of the same format
func ExtractRange(path string, start, end float64, keyframes clips.KeyframeTable) ([]byte, error) {
	in, err := OpenInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := CreateMemory(in, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	defer out.Close()

	if err := remux.ExtractRange(in, out, start, end, keyframes); err != nil {
		return nil, fmt.Errorf("failed to extract %.2f-%.2f: %w", start, end, err)
	}
	return out.Bytes(), nil
}
