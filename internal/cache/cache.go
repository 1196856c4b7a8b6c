package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
)

// Cache maps chunk indices to synthesized clips for a single session.
type Cache struct {
	logger *log.Logger

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Prefetch lifetime
	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	// Synchronization
	mu       sync.Mutex
	clips    map[int]*Clip
	released bool
	stats    Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for prefetch failures and statistics.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache.
func New(config Config, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		logger: log.WithPrefix("cache"),
		ctx:    ctx,
		cancel: cancel,
		clips:  make(map[int]*Clip),
	}
	for _, opt := range opts {
		opt(c)
	}

	if config.Compress {
		level := config.CompressionLevel
		if level <= 0 {
			level = DefaultConfig().CompressionLevel
		}
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err == nil {
			var dec *zstd.Decoder
			dec, err = zstd.NewReader(nil)
			if err == nil {
				c.encoder, c.decoder = enc, dec
			}
		}
		if err != nil {
			c.logger.Warn("compression disabled", "err", err)
		}
	}

	return c
}

// GetOrCreate returns the clip for index, invoking fn to synthesize it when
// it is not held yet. Concurrent calls for the same index, including a
// running prefetch, share a single invocation of fn.
func (c *Cache) GetOrCreate(ctx context.Context, index int, fn Func) (*Clip, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, ErrReleased
	}
	if clip, ok := c.clips[index]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return clip, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	return c.create(ctx, index, fn)
}

func (c *Cache) create(ctx context.Context, index int, fn Func) (*Clip, error) {
	ch := c.group.DoChan(strconv.Itoa(index), func() (any, error) {
		c.mu.Lock()
		clip, ok := c.clips[index]
		c.mu.Unlock()
		if ok {
			return clip, nil
		}

		data, err := fn(ctx)
		if err != nil {
			c.mu.Lock()
			c.stats.Failures++
			c.mu.Unlock()
			return nil, err
		}
		return c.store(index, data)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Clip), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// store adds a clip for index. After ReleaseAll the data is dropped.
func (c *Cache) store(index int, data []byte) (*Clip, error) {
	clip := &Clip{index: index, size: len(data), data: data}
	if c.encoder != nil {
		clip.data = c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		clip.dec = c.decoder
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		clip.Release()
		return nil, ErrReleased
	}
	if existing, ok := c.clips[index]; ok {
		return existing, nil
	}
	c.clips[index] = clip
	return clip, nil
}

// Prefetch synthesizes index in the background if it is neither held nor
// already being synthesized. Failures are logged only.
func (c *Cache) Prefetch(index int, fn Func) {
	c.mu.Lock()
	_, ok := c.clips[index]
	if c.released || ok {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		clip, err := c.create(c.ctx, index, fn)
		switch {
		case err == nil:
			c.mu.Lock()
			c.stats.Prefetched++
			c.mu.Unlock()
			c.logger.Debug("prefetched", "index", index, "size", humanize.Bytes(uint64(clip.Size())))
		case errors.Is(err, context.Canceled), errors.Is(err, ErrReleased):
		default:
			c.logger.Warn("prefetch failed", "index", index, "err", err)
		}
	}()
}

// ReleaseAll frees every clip, cancels running prefetches and makes later
// stores release their clip immediately. It is safe to call more than once.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	clips := c.clips
	c.clips = make(map[int]*Clip)
	stats := c.stats
	c.mu.Unlock()

	c.cancel()

	var total int64
	for _, clip := range clips {
		total += int64(clip.Size())
		clip.Release()
	}

	c.logger.Debug("released",
		"clips", len(clips),
		"size", humanize.Bytes(uint64(total)),
		"hits", stats.Hits,
		"misses", stats.Misses,
		"prefetched", stats.Prefetched)
}

// Len returns the number of held clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

// Contains reports whether a clip is held for index.
func (c *Cache) Contains(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.clips[index]
	return ok
}

// Released reports whether ReleaseAll has been called.
func (c *Cache) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Stats returns a snapshot of the cache metrics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Clips = len(c.clips)
	for _, clip := range c.clips {
		s.Bytes += int64(clip.Size())
		s.Stored += int64(clip.stored())
	}
	return s
}
