package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog"
)

// Extension replaces the video's extension to name its durable record
const Extension = ".eclipper"

// maxEntries bounds slice lengths read from disk so a corrupt length never
// triggers a huge allocation
const maxEntries = 1 << 26

// ErrMiss is returned internally when a record cannot be used
var ErrMiss = errors.New("cache miss")

// Key selects the clip list produced by one set of detection options
type Key struct {
	IncludeSpectating bool
	IncludeAssists    bool
}

// Record is the memoized scan result for one video file
type Record struct {
	FileSize  uint64
	Keyframes clips.KeyframeTable
	Clips     map[Key][]clips.Clip
}

// Durable persists scan results next to the source video
type Durable struct {
	logger zerolog.Logger
}

// NewDurable creates a durable cache accessor
func NewDurable(logger zerolog.Logger) *Durable {
	return &Durable{
		logger: logger.With().Str("component", "durable-cache").Logger(),
	}
}

// Path returns the record location for input
func Path(input string) string {
	return util.ReplaceExt(input, Extension)
}

// Load returns the record for input when it exists, decodes and matches the
// file's current size. Any failure is a miss.
func (d *Durable) Load(input string) (*Record, bool) {
	rec, err := d.load(input)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Debug().Err(err).Str("input", input).Msg("durable cache unusable")
		}
		return nil, false
	}
	return rec, true
}

func (d *Durable) load(input string) (*Record, error) {
	size, err := util.FileSize(input)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(Path(input))
	if err != nil {
		return nil, err
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if rec.FileSize != size {
		return nil, fmt.Errorf("%w: recorded size %d, file is %d bytes", ErrMiss, rec.FileSize, size)
	}
	return rec, nil
}

// Lookup returns the cached clips for key along with the record's keyframes.
// A record without the key still yields its keyframes.
func (d *Durable) Lookup(input string, key Key) ([]clips.Clip, clips.KeyframeTable, bool) {
	rec, ok := d.Load(input)
	if !ok {
		metrics.CacheMiss("durable")
		return nil, nil, false
	}
	cs, ok := rec.Clips[key]
	if ok {
		metrics.CacheHit("durable")
	} else {
		metrics.CacheMiss("durable")
	}
	return cs, rec.Keyframes, ok
}

// Store records the clips for key. Entries for other keys survive when the
// existing record still matches the file; otherwise the record is replaced.
// Failures are logged and otherwise ignored.
func (d *Durable) Store(input string, key Key, cs []clips.Clip, keyframes clips.KeyframeTable) {
	size, err := util.FileSize(input)
	if err != nil {
		d.logger.Warn().Err(err).Str("input", input).Msg("failed to stat input, not caching")
		return
	}

	rec, ok := d.Load(input)
	if !ok {
		rec = &Record{
			FileSize:  size,
			Keyframes: keyframes,
			Clips:     make(map[Key][]clips.Clip),
		}
	}
	rec.Clips[key] = cs

	if err := util.WriteFileAtomic(Path(input), Encode(rec)); err != nil {
		d.logger.Warn().Err(err).Str("path", Path(input)).Msg("failed to write durable cache")
		return
	}
	d.logger.Debug().
		Str("path", Path(input)).
		Int("clips", len(cs)).
		Int("entries", len(rec.Clips)).
		Msg("durable cache written")
}

// Encode serializes a record:
//
//	u64 file_size | u64 n | n × f64 keyframe
//	u64 m | m × (u8 spectating, u8 assists, u64 k, k × (f64 start, f64 end))
//
// all little-endian. Keys are written in a fixed order so equal records
// encode identically.
func Encode(rec *Record) []byte {
	var buf bytes.Buffer
	putU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
	putF64 := func(v float64) { putU64(math.Float64bits(v)) }
	putBool := func(v bool) {
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	putU64(rec.FileSize)
	putU64(uint64(len(rec.Keyframes)))
	for _, k := range rec.Keyframes {
		putF64(k)
	}

	keys := sortedKeys(rec.Clips)
	putU64(uint64(len(keys)))
	for _, key := range keys {
		cs := rec.Clips[key]
		putBool(key.IncludeSpectating)
		putBool(key.IncludeAssists)
		putU64(uint64(len(cs)))
		for _, c := range cs {
			putF64(c.Start)
			putF64(c.End)
		}
	}
	return buf.Bytes()
}

func sortedKeys(m map[Key][]clips.Clip) []Key {
	var keys []Key
	for _, spectating := range []bool{false, true} {
		for _, assists := range []bool{false, true} {
			k := Key{IncludeSpectating: spectating, IncludeAssists: assists}
			if _, ok := m[k]; ok {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Decode parses a record written by Encode. Truncated or trailing data is
// an error.
func Decode(data []byte) (*Record, error) {
	r := bytes.NewReader(data)

	u64 := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}
	f64 := func() (float64, error) {
		v, err := u64()
		return math.Float64frombits(v), err
	}
	length := func() (int, error) {
		n, err := u64()
		if err != nil {
			return 0, err
		}
		if n > maxEntries || n > uint64(r.Len()) {
			return 0, fmt.Errorf("implausible length %d", n)
		}
		return int(n), nil
	}
	flag := func() (bool, error) {
		b, err := r.ReadByte()
		if err != nil {
			return false, err
		}
		if b > 1 {
			return false, fmt.Errorf("invalid bool byte %d", b)
		}
		return b == 1, nil
	}

	rec := &Record{Clips: make(map[Key][]clips.Clip)}
	var err error
	if rec.FileSize, err = u64(); err != nil {
		return nil, fmt.Errorf("failed to read file size: %w", err)
	}

	n, err := length()
	if err != nil {
		return nil, fmt.Errorf("failed to read keyframe count: %w", err)
	}
	rec.Keyframes = make(clips.KeyframeTable, n)
	for i := range rec.Keyframes {
		if rec.Keyframes[i], err = f64(); err != nil {
			return nil, fmt.Errorf("failed to read keyframe %d: %w", i, err)
		}
	}

	m, err := length()
	if err != nil {
		return nil, fmt.Errorf("failed to read entry count: %w", err)
	}
	for i := 0; i < m; i++ {
		var key Key
		if key.IncludeSpectating, err = flag(); err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", i, err)
		}
		if key.IncludeAssists, err = flag(); err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", i, err)
		}
		k, err := length()
		if err != nil {
			return nil, fmt.Errorf("failed to read clip count: %w", err)
		}
		cs := make([]clips.Clip, k)
		for j := range cs {
			if cs[j].Start, err = f64(); err != nil {
				return nil, fmt.Errorf("failed to read clip %d: %w", j, err)
			}
			if cs[j].End, err = f64(); err != nil {
				return nil, fmt.Errorf("failed to read clip %d: %w", j, err)
			}
		}
		rec.Clips[key] = cs
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return rec, nil
}
