package tts

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/readaloud/internal/cache"
)

// session is the state of one Start..Stop run. It is owned by the
// controller loop and never shared.
type session struct {
	id      string
	article Article
	chunks  []Segment
	cursor  int
	started time.Time

	cache  *cache.Cache
	ctx    context.Context
	cancel context.CancelFunc

	// Resources, each acquired at most once and released exactly once.
	wakeLock        WakeLockHandle
	mediaRegistered bool

	// seq identifies the current synthesis or playback request. Completion
	// messages with another seq are stale.
	seq uint64
	// loaded is true while the device holds the current chunk's clip.
	loaded bool
	// ready holds a clip synthesized while paused, played on Resume.
	ready *cache.Clip
	// inflight is true while synthesis for the cursor is outstanding.
	inflight bool
	// ended is true when the clip finished while paused.
	ended bool
}

func newSession(article Article, chunks []Segment, config cache.Config, logger *log.Logger) *session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:      id,
		article: article,
		chunks:  chunks,
		started: time.Now(),
		cache:   cache.New(config, cache.WithLogger(logger.With("session", id[:8]))),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// clamp limits index to the chunk range.
func (s *session) clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index > len(s.chunks)-1 {
		return len(s.chunks) - 1
	}
	return index
}

// current returns the segment under the cursor, or the zero Segment once
// the cursor has run past the end.
func (s *session) current() Segment {
	if s.cursor < 0 || s.cursor >= len(s.chunks) {
		return Segment{}
	}
	return s.chunks[s.cursor]
}
