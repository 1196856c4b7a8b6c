package tts

import (
	"context"
	"time"
)

// Splitter turns article text into ordered speakable segments.
type Splitter interface {
	// Split returns the segments of text. It returns an empty slice for text
	// without speakable content.
	Split(text string) []Segment
}

// Synthesizer converts text to normalized float samples.
type Synthesizer interface {
	// Synthesize returns the samples for text. Empty or whitespace text
	// returns an empty result without contacting the engine.
	Synthesize(ctx context.Context, text string) ([]float32, error)

	// SampleRate returns the rate of the samples produced by Synthesize.
	SampleRate() int
}

// AudioDevice plays encoded clips one at a time.
type AudioDevice interface {
	// Play starts playing a WAV clip, replacing anything currently loaded.
	// onEnd is called once when the clip plays to completion. It is not
	// called after Stop.
	Play(clip []byte, onEnd func()) error

	// Pause suspends the current clip.
	Pause() error

	// Resume continues a paused clip.
	Resume() error

	// Stop halts and unloads the current clip.
	Stop() error
}

// WakeLock inhibits the screen from sleeping.
type WakeLock interface {
	// Acquire takes the lock. The returned handle must be released exactly once.
	Acquire(ctx context.Context) (WakeLockHandle, error)
}

// WakeLockHandle is a held wake lock.
type WakeLockHandle interface {
	Release() error
}

// MediaSession is the OS media-control surface.
type MediaSession interface {
	// Register installs handlers for the surface's transport controls.
	// ctx bounds the registration only, not the lifetime of the handlers.
	Register(ctx context.Context, handlers MediaHandlers) error

	// SetPlaybackStatus reports the current playback status.
	SetPlaybackStatus(status PlaybackStatus)

	// SetMetadata reports what is being read.
	SetMetadata(meta MediaMetadata)

	// Unregister removes the handlers installed by Register.
	Unregister() error
}

// MediaHandlers are the callbacks invoked by a MediaSession.
type MediaHandlers struct {
	Play     func()
	Pause    func()
	Stop     func()
	Previous func()
	Next     func()
}

// PlaybackStatus is the status reported to a MediaSession.
type PlaybackStatus string

// Playback statuses, named after the MPRIS values.
const (
	StatusPlaying PlaybackStatus = "Playing"
	StatusPaused  PlaybackStatus = "Paused"
	StatusStopped PlaybackStatus = "Stopped"
)

// MediaMetadata describes the chunk being read.
type MediaMetadata struct {
	Title  string
	URL    string
	Chunk  int
	Chunks int
	Text   string
}

// Segment is one sentence-scoped unit of text.
type Segment struct {
	Index int    // Index in the segment list
	Text  string // Trimmed text
	Start int    // Start byte offset in the source text
	End   int    // End byte offset in the source text
}

// Voice is a voice offered by a synthesis engine.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
}

// Snapshot is a point-in-time copy of the controller's state.
type Snapshot struct {
	State     StateType
	SessionID string
	Index     int
	Total     int
	Text      string
	Title     string
	Started   time.Time
}
