package remux

import (
	"errors"

	"github.com/keagan/eclipper/internal/media/timebase"
)

// ErrNoVideoStream is returned when a source has no video stream to anchor
// timestamps on
var ErrNoVideoStream = errors.New("no video stream")

// ErrNoKeyframe is returned when a clip starts after the last keyframe
var ErrNoKeyframe = errors.New("no keyframe at or after clip start")

// Kind is the media type of a stream
type Kind int

const (
	KindOther Kind = iota
	KindVideo
	KindAudio
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return "other"
	}
}

// Copied reports whether streams of this kind are carried into outputs
func (k Kind) Copied() bool {
	return k == KindVideo || k == KindAudio || k == KindSubtitle
}

// Stream describes one input stream
type Stream struct {
	Index    int
	Kind     Kind
	TimeBase timebase.Rational
}

// Packet is a demuxed packet. Timestamps are in TimeBase; Payload carries
// the backend's native packet and is opaque to the retiming logic.
type Packet struct {
	Stream   int
	Pts      int64
	Dts      int64
	Duration int64
	Key      bool
	TimeBase timebase.Rational
	Payload  any
}

// Source is a demuxer the retiming logic reads packets from
type Source interface {
	Streams() []Stream
	// VideoStream returns the index of the primary video stream
	VideoStream() int
	// ReadPacket returns io.EOF once the input is exhausted. The packet is
	// only valid until the next call.
	ReadPacket() (*Packet, error)
	// Seek positions the demuxer near ts on the given stream. anyFrame
	// allows landing on non-key packets.
	Seek(stream int, ts int64, anyFrame bool) error
}

// Sink is a muxer receiving retimed packets
type Sink interface {
	WriteHeader() error
	// WritePacket writes p to output stream out, rescaling from p.TimeBase
	// to the output stream's timebase
	WritePacket(p *Packet, out int) error
	// WriteTrailer finalizes the output. The container duration follows
	// from the packets written.
	WriteTrailer() error
}

// StreamMapping maps every copied input stream to its output index, in
// input order
func StreamMapping(streams []Stream) map[int]int {
	mapping := make(map[int]int)
	next := 0
	for _, s := range streams {
		if !s.Kind.Copied() {
			continue
		}
		mapping[s.Index] = next
		next++
	}
	return mapping
}

func findStream(streams []Stream, index int) (Stream, bool) {
	for _, s := range streams {
		if s.Index == index {
			return s, true
		}
	}
	return Stream{}, false
}
