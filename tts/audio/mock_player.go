package audio

import (
	"sync"
	"time"

	"github.com/dgnsrekt/readaloud/tts/wav"
)

// MockPlayer is an audio device that plays nothing. By default a clip
// ends only when Finish is called; in realtime mode it ends after the
// clip's duration, which makes it usable as a silent output device.
type MockPlayer struct {
	mu sync.Mutex

	current []byte
	onEnd   func()
	playing bool
	paused  bool
	gen     uint64
	plays   int
	history []PlaybackEvent

	// Realtime simulation
	realtime  bool
	speed     float64
	timer     *time.Timer
	remaining time.Duration
	resumedAt time.Time

	// Error injection for testing
	playErr   error
	pauseErr  error
	resumeErr error
	stopErr   error
}

// PlaybackEvent records a device call for test verification.
type PlaybackEvent struct {
	Type      string
	Timestamp time.Time
	Bytes     int
}

// MockOption configures a MockPlayer.
type MockOption func(*MockPlayer)

// WithRealtime makes clips end on their own after their duration divided
// by speed.
func WithRealtime(speed float64) MockOption {
	return func(mp *MockPlayer) {
		if speed <= 0 {
			speed = 1
		}
		mp.realtime = true
		mp.speed = speed
	}
}

// NewMockPlayer creates a mock device.
func NewMockPlayer(opts ...MockOption) *MockPlayer {
	mp := &MockPlayer{speed: 1}
	for _, opt := range opts {
		opt(mp)
	}
	return mp
}

// Play records clip as the current clip.
func (mp *MockPlayer) Play(clip []byte, onEnd func()) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.playErr != nil {
		return mp.playErr
	}

	var duration time.Duration
	if mp.realtime {
		info, _, err := wav.Decode(clip)
		if err != nil {
			return err
		}
		duration = time.Duration(float64(info.Duration()) / mp.speed)
	}

	mp.halt()
	mp.current = clip
	mp.onEnd = onEnd
	mp.playing = true
	mp.paused = false
	mp.plays++
	mp.record("play", len(clip))

	if mp.realtime {
		mp.remaining = duration
		mp.schedule()
	}
	return nil
}

// Pause suspends the current clip.
func (mp *MockPlayer) Pause() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.pauseErr != nil {
		return mp.pauseErr
	}
	if !mp.playing || mp.paused {
		return nil
	}
	mp.paused = true
	if mp.timer != nil {
		mp.timer.Stop()
		mp.timer = nil
		mp.remaining -= time.Since(mp.resumedAt)
	}
	mp.record("pause", 0)
	return nil
}

// Resume continues the current clip.
func (mp *MockPlayer) Resume() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.resumeErr != nil {
		return mp.resumeErr
	}
	if !mp.playing || !mp.paused {
		return nil
	}
	mp.paused = false
	if mp.realtime {
		mp.schedule()
	}
	mp.record("resume", 0)
	return nil
}

// Stop discards the current clip without reporting its end.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.stopErr != nil {
		return mp.stopErr
	}
	if !mp.playing {
		return nil
	}
	mp.halt()
	mp.record("stop", 0)
	return nil
}

// Close stops playback.
func (mp *MockPlayer) Close() error {
	return mp.Stop()
}

// Finish ends the current clip as if it had played to the end and calls its
// end callback. It returns false when no clip is loaded.
func (mp *MockPlayer) Finish() bool {
	mp.mu.Lock()
	if !mp.playing {
		mp.mu.Unlock()
		return false
	}
	fn := mp.onEnd
	mp.halt()
	mp.record("end", 0)
	mp.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// halt clears the current clip. Callers hold mu.
func (mp *MockPlayer) halt() {
	mp.gen++
	if mp.timer != nil {
		mp.timer.Stop()
		mp.timer = nil
	}
	mp.current = nil
	mp.onEnd = nil
	mp.playing = false
	mp.paused = false
}

func (mp *MockPlayer) schedule() {
	gen := mp.gen
	mp.resumedAt = time.Now()
	remaining := mp.remaining
	if remaining < 0 {
		remaining = 0
	}
	mp.timer = time.AfterFunc(remaining, func() { mp.expire(gen) })
}

func (mp *MockPlayer) expire(gen uint64) {
	mp.mu.Lock()
	if mp.gen != gen || !mp.playing || mp.paused {
		mp.mu.Unlock()
		return
	}
	mp.mu.Unlock()
	mp.Finish()
}

func (mp *MockPlayer) record(eventType string, n int) {
	mp.history = append(mp.history, PlaybackEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Bytes:     n,
	})
}

// Test Control Methods

// IsPlaying reports whether a clip is loaded and not paused.
func (mp *MockPlayer) IsPlaying() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.playing && !mp.paused
}

// IsPaused reports whether the current clip is paused.
func (mp *MockPlayer) IsPaused() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.playing && mp.paused
}

// Current returns the loaded clip, or nil.
func (mp *MockPlayer) Current() []byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.current
}

// Plays returns how many clips have been started.
func (mp *MockPlayer) Plays() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.plays
}

// History returns a copy of the recorded events.
func (mp *MockPlayer) History() []PlaybackEvent {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	history := make([]PlaybackEvent, len(mp.history))
	copy(history, mp.history)
	return history
}

// WaitForPlays waits until at least n clips have been started.
func (mp *MockPlayer) WaitForPlays(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mp.Plays() >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return mp.Plays() >= n
}

// SetPlayError makes Play fail with err.
func (mp *MockPlayer) SetPlayError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.playErr = err
}

// SetPauseError makes Pause fail with err.
func (mp *MockPlayer) SetPauseError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.pauseErr = err
}

// SetResumeError makes Resume fail with err.
func (mp *MockPlayer) SetResumeError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.resumeErr = err
}

// SetStopError makes Stop fail with err.
func (mp *MockPlayer) SetStopError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.stopErr = err
}
