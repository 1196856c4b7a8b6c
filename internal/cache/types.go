package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Common errors for cache operations
var (
	// ErrReleased is returned by a cache or clip after ReleaseAll.
	ErrReleased = errors.New("cache released")

	// ErrCacheCorrupted is returned when a compressed clip fails to decode
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Func produces the playable audio for one chunk.
type Func func(ctx context.Context) ([]byte, error)

// Config holds configuration for cache instances
type Config struct {
	// Compress holds clips zstd-compressed in memory.
	Compress bool
	// CompressionLevel is the zstd level (1-22, default 3).
	CompressionLevel int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Compress:         false,
		CompressionLevel: 3,
	}
}

// Stats holds cache metrics
type Stats struct {
	Clips      int   // Clips currently held
	Bytes      int64 // Uncompressed size of held clips
	Stored     int64 // Bytes actually held in memory
	Hits       int64 // GetOrCreate served from a held clip
	Misses     int64 // GetOrCreate that had to wait for synthesis
	Prefetched int64 // Clips stored by Prefetch
	Failures   int64 // Failed synthesis attempts
}

// Clip is one chunk's playable audio, owned by the cache.
type Clip struct {
	index int
	size  int

	mu       sync.Mutex
	data     []byte
	dec      *zstd.Decoder
	released bool
}

// Index returns the chunk index the clip was synthesized for.
func (c *Clip) Index() int {
	return c.index
}

// Size returns the uncompressed size of the clip in bytes.
func (c *Clip) Size() int {
	return c.size
}

// WAV returns the clip's container bytes.
func (c *Clip) WAV() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, ErrReleased
	}
	if c.dec == nil {
		return c.data, nil
	}

	out, err := c.dec.DecodeAll(c.data, make([]byte, 0, c.size))
	if err != nil {
		return nil, errors.Join(ErrCacheCorrupted, err)
	}
	return out, nil
}

// Release frees the clip's audio. Further WAV calls fail with ErrReleased.
func (c *Clip) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.released = true
	c.data = nil
}

// Released reports whether the clip has been freed.
func (c *Clip) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Clip) stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
