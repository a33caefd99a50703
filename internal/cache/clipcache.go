package cache

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/keagan/eclipper/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultClipEntries bounds the clip cache by count
	DefaultClipEntries = 20
	// DefaultClipBytes bounds the clip cache by aggregate size
	DefaultClipBytes = 500_000_000
)

// ClipKey identifies a transcoded range. Bounds are canonicalized so that
// values differing only in float noise share an entry.
type ClipKey struct {
	Start int64
	End   int64
}

// canon rounds seconds to a 2^-20 grid
func canon(secs float64) int64 {
	return int64(math.Round(secs * (1 << 20)))
}

// NewClipKey builds the key for [start, end]
func NewClipKey(start, end float64) ClipKey {
	return ClipKey{Start: canon(start), End: canon(end)}
}

// TranscodeFunc produces the container bytes for [start, end]
type TranscodeFunc func(start, end float64) ([]byte, error)

// ClipCache holds transcoded clip bytes, bounded by entry count and by a
// byte ceiling
type ClipCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[ClipKey, []byte]
	size     int64
	maxBytes int64
	logger   zerolog.Logger
}

// NewClipCache creates a clip cache. Non-positive bounds fall back to the
// defaults.
func NewClipCache(entries int, maxBytes int64, logger zerolog.Logger) (*ClipCache, error) {
	if entries <= 0 {
		entries = DefaultClipEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultClipBytes
	}

	c := &ClipCache{
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "clip-cache").Logger(),
	}
	lru, err := simplelru.NewLRU[ClipKey, []byte](entries, func(_ ClipKey, data []byte) {
		c.size -= int64(len(data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create clip cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// Get returns the bytes for [start, end], transcoding on a miss. The lock is
// not held while transcoding, so concurrent misses for one key may both
// transcode; the later insert wins. Failures are not cached.
func (c *ClipCache) Get(start, end float64, transcode TranscodeFunc) ([]byte, error) {
	key := NewClipKey(start, end)

	c.mu.Lock()
	data, ok := c.lru.Get(key)
	c.mu.Unlock()
	if ok {
		metrics.CacheHit("clip")
		return data, nil
	}
	metrics.CacheMiss("clip")

	data, err := transcode(start, end)
	if err != nil {
		return nil, err
	}

	c.Add(key, data)
	c.logger.Debug().
		Float64("start", start).
		Float64("end", end).
		Int("bytes", len(data)).
		Msg("clip transcoded")
	return data, nil
}

// Add inserts data, then evicts least recently used entries while the total
// exceeds the byte ceiling and more than one entry remains
func (c *ClipCache) Add(key ClipKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.size -= int64(len(old))
	}
	c.lru.Add(key, data)
	c.size += int64(len(data))

	for c.size > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// Contains reports whether [start, end] is cached without touching recency
func (c *ClipCache) Contains(start, end float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(NewClipKey(start, end))
}

// Len returns the number of cached clips
func (c *ClipCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the aggregate byte size of cached clips
func (c *ClipCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Purge drops every entry, used when a different video is opened
func (c *ClipCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
}
