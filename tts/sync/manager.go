// Package sync estimates reading progress between chunk boundaries, so a
// view can animate progress while a chunk plays. The estimate is corrected
// each time the controller reports that a chunk finished.
package sync

import (
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/readaloud/tts"
)

// Config tunes the progress estimate.
type Config struct {
	// UpdateRate is how often OnUpdate callbacks fire while running.
	UpdateRate time.Duration
	// WordsPerMinute is the speaking rate assumed before any chunk has
	// been measured.
	WordsPerMinute float64
	// SmoothingFactor is the weight given to each newly measured rate.
	SmoothingFactor float64
	// MaxDrift caps how far a single measurement may move the rate, as a
	// ratio of the current rate.
	MaxDrift float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UpdateRate:      100 * time.Millisecond,
		WordsPerMinute:  170,
		SmoothingFactor: 0.3,
		MaxDrift:        2,
	}
}

// Update is a progress estimate.
type Update struct {
	Index     int
	Total     int
	Chunk     float64       // Fraction of the current chunk read
	Overall   float64       // Fraction of the article read
	Remaining time.Duration // Estimated time left in the article
	Paused    bool
}

// Manager tracks reading progress.
type Manager struct {
	config Config
	now    func() time.Time

	mu         sync.Mutex
	words      []int
	index      int
	chunkStart time.Time
	pausedAt   time.Time
	pausedFor  time.Duration
	paused     bool
	perWord    time.Duration
	running    bool
	stop       chan struct{}
	onUpdate   func(Update)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a progress manager. Zero config values use the
// defaults.
func NewManager(config Config, opts ...Option) *Manager {
	d := DefaultConfig()
	if config.UpdateRate <= 0 {
		config.UpdateRate = d.UpdateRate
	}
	if config.WordsPerMinute <= 0 {
		config.WordsPerMinute = d.WordsPerMinute
	}
	if config.SmoothingFactor <= 0 || config.SmoothingFactor > 1 {
		config.SmoothingFactor = d.SmoothingFactor
	}
	if config.MaxDrift <= 1 {
		config.MaxDrift = d.MaxDrift
	}

	m := &Manager{
		config:  config,
		now:     time.Now,
		perWord: time.Duration(float64(time.Minute) / config.WordsPerMinute),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins tracking segments from the first one.
func (m *Manager) Start(segments []tts.Segment) {
	m.Stop()

	m.mu.Lock()
	m.words = make([]int, len(segments))
	for i, seg := range segments {
		n := len(strings.Fields(seg.Text))
		if n == 0 {
			n = 1
		}
		m.words[i] = n
	}
	m.index = 0
	m.chunkStart = m.now()
	m.pausedFor = 0
	m.paused = false
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go m.loop(stop)
}

// Stop ends tracking. It is safe to call when not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

// IsRunning reports whether the manager is tracking an article.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SetChunk records that index became the current chunk. When it follows
// the previous chunk directly, the measured duration corrects the rate.
func (m *Manager) SetChunk(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.words) {
		return
	}

	now := m.now()
	if index == m.index+1 {
		m.correct(m.words[m.index], m.elapsed(now))
	}
	m.index = index
	m.chunkStart = now
	m.pausedFor = 0
	if m.paused {
		m.pausedAt = now
	}
}

// correct blends a measured chunk duration into the per-word rate. Callers
// hold mu.
func (m *Manager) correct(words int, measured time.Duration) {
	if measured <= 0 {
		return
	}
	observed := float64(measured) / float64(words)
	current := float64(m.perWord)

	if observed > current*m.config.MaxDrift {
		observed = current * m.config.MaxDrift
	} else if observed < current/m.config.MaxDrift {
		observed = current / m.config.MaxDrift
	}

	a := m.config.SmoothingFactor
	m.perWord = time.Duration(a*observed + (1-a)*current)
}

// Pause freezes the estimate.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return
	}
	m.paused = true
	m.pausedAt = m.now()
}

// Resume continues the estimate.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return
	}
	m.paused = false
	m.pausedFor += m.now().Sub(m.pausedAt)
}

// elapsed returns the unpaused time spent on the current chunk. Callers
// hold mu.
func (m *Manager) elapsed(now time.Time) time.Duration {
	d := now.Sub(m.chunkStart) - m.pausedFor
	if m.paused {
		d -= now.Sub(m.pausedAt)
	}
	if d < 0 {
		return 0
	}
	return d
}

// PerWord returns the current per-word estimate.
func (m *Manager) PerWord() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perWord
}

// Current returns the progress estimate now.
func (m *Manager) Current() Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Update{Index: m.index, Total: len(m.words), Paused: m.paused}
	if len(m.words) == 0 {
		return u
	}

	var total, before int
	for i, w := range m.words {
		total += w
		if i < m.index {
			before += w
		}
	}

	chunk := time.Duration(m.words[m.index]) * m.perWord
	u.Chunk = float64(m.elapsed(m.now())) / float64(chunk)
	if u.Chunk > 1 {
		u.Chunk = 1
	}

	read := float64(before) + u.Chunk*float64(m.words[m.index])
	u.Overall = read / float64(total)
	u.Remaining = time.Duration((float64(total) - read) * float64(m.perWord))
	return u
}

// OnUpdate registers a callback invoked every UpdateRate while running and
// not paused.
func (m *Manager) OnUpdate(fn func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

func (m *Manager) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.config.UpdateRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			fn, paused := m.onUpdate, m.paused
			m.mu.Unlock()
			if fn != nil && !paused {
				fn(m.Current())
			}
		}
	}
}
