package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/keagan/eclipper/internal/framebuf"
	"github.com/keagan/eclipper/internal/metrics"
)

// DefaultFrameEntries bounds the preview frame cache
const DefaultFrameEntries = 50

// FrameCache keeps recent preview frames as encoded bitmaps, keyed by
// presentation timestamp
type FrameCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[int64, []byte]
}

// NewFrameCache creates a frame cache holding at most entries frames
func NewFrameCache(entries int) (*FrameCache, error) {
	if entries <= 0 {
		entries = DefaultFrameEntries
	}
	lru, err := simplelru.NewLRU[int64, []byte](entries, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}
	return &FrameCache{lru: lru}, nil
}

// Put encodes f and stores it under pts
func (c *FrameCache) Put(pts int64, f *framebuf.RGB) error {
	data, err := framebuf.EncodeBMP(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(pts, data)
	return nil
}

// Get returns the bitmap for pts
func (c *FrameCache) Get(pts int64) ([]byte, bool) {
	c.mu.Lock()
	data, ok := c.lru.Get(pts)
	c.mu.Unlock()

	if ok {
		metrics.CacheHit("frame")
	} else {
		metrics.CacheMiss("frame")
	}
	return data, ok
}

func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every frame
func (c *FrameCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
