//go:build !nocgo
// +build !nocgo

package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/readaloud/tts/wav"
)

// oto allows a single context per process, so every Player shares it.
var (
	contextOnce sync.Once
	otoContext  *oto.Context
	contextRate int
	contextErr  error
)

const (
	readyTimeout  = 5 * time.Second
	pollInterval  = 100 * time.Millisecond
	deviceLatency = 100 * time.Millisecond
)

func sharedContext(sampleRate int, logger *log.Logger) (*oto.Context, error) {
	contextOnce.Do(func() {
		options := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: wav.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   deviceLatency,
		}
		logger.Debug("opening audio device", "sample_rate", sampleRate, "channels", wav.Channels)

		ctx, ready, err := oto.NewContext(options)
		if err != nil {
			contextErr = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			return
		}
		select {
		case <-ready:
			otoContext = ctx
			contextRate = sampleRate
		case <-time.After(readyTimeout):
			contextErr = fmt.Errorf("%w: device not ready after %v", ErrDeviceUnavailable, readyTimeout)
		}
	})
	if contextErr != nil {
		return nil, contextErr
	}
	if contextRate != sampleRate {
		return nil, fmt.Errorf("%w: device already open at %d Hz", ErrFormatMismatch, contextRate)
	}
	return otoContext, nil
}

// Player plays one clip at a time on the system audio device.
type Player struct {
	context    *oto.Context
	sampleRate int
	logger     *log.Logger

	mu     sync.Mutex
	player *oto.Player
	reader *trackingReader
	paused bool
	// gen changes whenever the current clip is replaced or stopped, so a
	// monitor for an old clip never reports its end.
	gen uint64
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPlayerLogger sets the player logger.
func WithPlayerLogger(l *log.Logger) PlayerOption {
	return func(p *Player) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlayer opens the audio device at sampleRate.
func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	p := &Player{
		sampleRate: sampleRate,
		logger:     log.WithPrefix("audio"),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, err := sharedContext(sampleRate, p.logger)
	if err != nil {
		return nil, err
	}
	p.context = ctx
	return p, nil
}

// Play replaces the current clip with clip and starts playing it. onEnd is
// called once when the clip has been played to the end; it is not called
// if the clip is stopped or replaced first.
func (p *Player) Play(clip []byte, onEnd func()) error {
	info, pcm, err := wav.Decode(clip)
	if err != nil {
		return fmt.Errorf("unable to decode clip: %w", err)
	}
	if err := checkFormat(info, p.sampleRate, wav.Channels); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	reader := newTrackingReader(pcm)
	player := p.context.NewPlayer(reader)
	player.Play()

	p.player = player
	p.reader = reader
	p.paused = false
	p.gen++

	p.logger.Debug("playing clip", "duration", info.Duration().Round(time.Millisecond))
	go p.monitor(p.gen, player, reader, onEnd)
	return nil
}

// Pause suspends the current clip.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil || p.paused {
		return nil
	}
	p.player.Pause()
	p.paused = true
	return nil
}

// Resume continues a paused clip.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil || !p.paused {
		return nil
	}
	p.player.Play()
	p.paused = false
	return nil
}

// Stop halts and discards the current clip.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

// Close stops playback. The shared device stays open for the process.
func (p *Player) Close() error {
	return p.Stop()
}

func (p *Player) stopLocked() error {
	p.gen++
	p.paused = false
	if p.player == nil {
		return nil
	}
	p.player.Pause()
	err := p.player.Close()
	p.player = nil
	p.reader = nil
	return err
}

// monitor polls the player until the clip has drained and the device has
// gone quiet, then reports the end.
func (p *Player) monitor(gen uint64, player *oto.Player, reader *trackingReader, onEnd func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		if p.paused || player.IsPlaying() || !reader.Drained() {
			p.mu.Unlock()
			continue
		}

		if err := player.Close(); err != nil {
			p.logger.Debug("unable to close player", "err", err)
		}
		p.player = nil
		p.reader = nil
		p.gen++
		p.mu.Unlock()

		if onEnd != nil {
			onEnd()
		}
		return
	}
}
