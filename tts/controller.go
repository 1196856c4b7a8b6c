// Package tts reads articles aloud: it splits them into chunks, synthesizes
// each chunk ahead of playback and plays them in order.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/tts/wav"
)

// Controller is the playback state machine. All session state is owned by
// a single goroutine; public methods and completion signals are messages
// to it.
type Controller struct {
	// Core components
	splitter Splitter
	synth    Synthesizer
	device   AudioDevice
	wakeLock WakeLock
	media    MediaSession

	// Configuration
	playback        PlaybackConfig
	cacheConfig     cache.Config
	resourceTimeout time.Duration
	logger          *log.Logger

	// Owned by the loop goroutine
	machine  *StateMachine
	session  *session
	handlers MediaHandlers

	// Loop channels
	cmds   chan command
	events chan any
	done   chan struct{}

	// Published state
	snapMu   sync.RWMutex
	snapshot Snapshot

	// Callbacks
	cbMu          sync.RWMutex
	onStateChange func(StateType)
	onChunkChange func(index, total int)
	onSessionEnd  func(error)
	notes         *notifier
}

// Option configures a Controller.
type Option func(*Controller)

// WithWakeLock sets the screen wake lock acquired for each session.
func WithWakeLock(w WakeLock) Option {
	return func(c *Controller) { c.wakeLock = w }
}

// WithMediaSession sets the OS media-control surface.
func WithMediaSession(m MediaSession) Option {
	return func(c *Controller) { c.media = m }
}

// WithPlaybackConfig sets the playback tuning.
func WithPlaybackConfig(cfg PlaybackConfig) Option {
	return func(c *Controller) { c.playback = cfg }
}

// WithCacheConfig sets how each session's cache holds clips.
func WithCacheConfig(cfg cache.Config) Option {
	return func(c *Controller) { c.cacheConfig = cfg }
}

// WithResourceTimeout bounds wake lock acquisition.
func WithResourceTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.resourceTimeout = d
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller and starts its loop. Close must be
// called to release it.
func NewController(splitter Splitter, synth Synthesizer, device AudioDevice, opts ...Option) *Controller {
	c := &Controller{
		splitter:        splitter,
		synth:           synth,
		device:          device,
		playback:        DefaultConfig().Playback,
		cacheConfig:     cache.DefaultConfig(),
		resourceTimeout: DefaultConfig().Platform.ResourceTimeout,
		logger:          log.WithPrefix("controller"),
		machine:         NewStateMachine(),
		cmds:            make(chan command),
		events:          make(chan any, 16),
		done:            make(chan struct{}),
		notes:           newNotifier(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Media controls drive the same commands as every other caller.
	c.handlers = MediaHandlers{
		Play:     func() { _ = c.Resume() },
		Pause:    func() { _ = c.Pause() },
		Stop:     func() { _ = c.Stop() },
		Previous: func() { _ = c.Previous() },
		Next:     func() { _ = c.Next() },
	}

	c.publish()
	go c.run()
	return c
}

// Start begins reading article from its first chunk. An active session is
// stopped first.
func (c *Controller) Start(article Article) error {
	return c.send(command{kind: cmdStart, article: article})
}

// Pause suspends playback. It is a no-op unless playing or synthesizing.
func (c *Controller) Pause() error {
	return c.send(command{kind: cmdPause})
}

// Resume continues a paused session.
func (c *Controller) Resume() error {
	return c.send(command{kind: cmdResume})
}

// Stop ends the session and releases its resources. It is a no-op when idle.
func (c *Controller) Stop() error {
	return c.send(command{kind: cmdStop})
}

// Previous moves to the previous chunk.
func (c *Controller) Previous() error {
	return c.send(command{kind: cmdPrevious})
}

// Next moves to the next chunk.
func (c *Controller) Next() error {
	return c.send(command{kind: cmdNext})
}

// Seek moves to chunk index, clamped to the article.
func (c *Controller) Seek(index int) error {
	return c.send(command{kind: cmdSeek, index: index})
}

// Close stops any session and terminates the controller. Further calls
// return ErrControllerClosed.
func (c *Controller) Close() error {
	err := c.send(command{kind: cmdClose})
	if errors.Is(err, ErrControllerClosed) {
		return nil
	}
	return err
}

// Done is closed once the controller has terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// State returns the current state.
func (c *Controller) State() StateType {
	return c.Snapshot().State
}

// Snapshot returns a copy of the published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

// OnStateChange registers a callback for state changes.
func (c *Controller) OnStateChange(fn func(StateType)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onStateChange = fn
}

// OnChunkChange registers a callback invoked when a chunk becomes current.
func (c *Controller) OnChunkChange(fn func(index, total int)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onChunkChange = fn
}

// OnSessionEnd registers a callback invoked when a session ends. err is nil
// when the article was read to the end or stopped by the user.
func (c *Controller) OnSessionEnd(fn func(error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSessionEnd = fn
}

func (c *Controller) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrControllerClosed
	}
	return <-cmd.reply
}

// post delivers a completion message to the loop. It is dropped once the
// controller has terminated.
func (c *Controller) post(msg any) {
	select {
	case c.events <- msg:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.notes.close()

	for {
		select {
		case cmd := <-c.cmds:
			err := c.handleCommand(cmd)
			c.publish()
			cmd.reply <- err
			if cmd.kind == cmdClose {
				return
			}
		case msg := <-c.events:
			c.handleEvent(msg)
			c.publish()
		}
	}
}

func (c *Controller) handleCommand(cmd command) error {
	s := c.session
	c.logger.Debug("command", "cmd", cmd.kind, "state", c.machine.Current())

	switch cmd.kind {
	case cmdStart:
		c.start(cmd.article)

	case cmdPause:
		switch c.machine.Current() {
		case StatePlaying:
			if err := c.device.Pause(); err != nil {
				c.fail(s, "pause", err)
				return nil
			}
			c.setState(StatePaused)
			c.setMediaStatus(s, StatusPaused)
		case StateSynthesizing:
			c.setState(StatePaused)
			c.setMediaStatus(s, StatusPaused)
		}

	case cmdResume:
		if c.machine.Current() != StatePaused {
			return nil
		}
		switch {
		case s.ended:
			c.advance(s)
		case s.loaded:
			if err := c.device.Resume(); err != nil {
				c.fail(s, "resume", err)
				return nil
			}
			c.setState(StatePlaying)
			c.setMediaStatus(s, StatusPlaying)
		case s.ready != nil:
			clip := s.ready
			s.ready = nil
			c.play(s, clip)
		case s.inflight:
			c.setState(StateSynthesizing)
			c.setMediaStatus(s, StatusPlaying)
		default:
			c.request(s, s.cursor)
		}

	case cmdStop:
		c.teardown(nil)

	case cmdPrevious:
		if s != nil {
			c.request(s, s.clamp(s.cursor-1))
		}

	case cmdNext:
		if s != nil {
			c.request(s, s.clamp(s.cursor+1))
		}

	case cmdSeek:
		if s != nil {
			c.request(s, s.clamp(cmd.index))
		}

	case cmdClose:
		c.teardown(nil)
	}
	return nil
}

func (c *Controller) handleEvent(msg any) {
	s := c.session

	switch m := msg.(type) {
	case synthesisDoneMsg:
		if s == nil || m.session != s.id || m.seq != s.seq {
			c.logger.Debug("discarding stale synthesis", "index", m.index, "err", m.err)
			return
		}
		s.inflight = false

		if m.err != nil {
			if errors.Is(m.err, ErrEmptySynthesisResult) && c.playback.SkipEmpty {
				c.logger.Warn("skipping chunk without audio", "index", m.index)
				c.advance(s)
				return
			}
			c.fail(s, "synthesize", m.err)
			return
		}

		if c.machine.Current() == StatePaused {
			s.ready = m.clip
			return
		}
		c.play(s, m.clip)

	case playbackEndedMsg:
		if s == nil || m.session != s.id || m.seq != s.seq {
			c.logger.Debug("discarding stale playback end")
			return
		}
		s.loaded = false
		switch c.machine.Current() {
		case StatePlaying:
			c.advance(s)
		case StatePaused:
			// Finished just as it was paused; move on when resumed.
			s.ended = true
		}
	}
}

func (c *Controller) start(article Article) {
	if c.session != nil {
		c.logger.Info("replacing active session", "session", c.session.id)
		c.teardown(nil)
	}

	chunks := c.splitter.Split(article.SpeakableText())
	s := newSession(article, chunks, c.cacheConfig, c.logger)
	c.session = s
	c.setState(StateSynthesizing)
	c.logger.Info("session started", "session", s.id, "title", article.Title, "chunks", len(chunks))

	if len(chunks) == 0 {
		c.teardown(nil)
		return
	}

	if c.wakeLock != nil {
		ctx, cancel := context.WithTimeout(s.ctx, c.resourceTimeout)
		handle, err := c.wakeLock.Acquire(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("continuing without wake lock", "err", fmt.Errorf("%w: %w", ErrResourceAcquisition, err))
		} else {
			s.wakeLock = handle
		}
	}

	if c.media != nil {
		ctx, cancel := context.WithTimeout(s.ctx, c.resourceTimeout)
		err := c.media.Register(ctx, c.handlers)
		cancel()
		if err != nil {
			c.logger.Warn("continuing without media controls", "err", fmt.Errorf("%w: %w", ErrResourceAcquisition, err))
		} else {
			s.mediaRegistered = true
		}
	}

	c.request(s, 0)
}

// request makes index the current chunk and synthesizes it. Playback starts
// when the matching synthesisDoneMsg arrives.
func (c *Controller) request(s *session, index int) {
	if s.loaded {
		if err := c.device.Stop(); err != nil {
			c.logger.Warn("unable to stop device", "err", err)
		}
		s.loaded = false
	}

	s.cursor = index
	s.seq++
	s.ready = nil
	s.ended = false
	s.inflight = true
	c.setState(StateSynthesizing)
	c.setMediaStatus(s, StatusPlaying)
	c.notifyChunk(index, len(s.chunks))
	if s.mediaRegistered {
		c.media.SetMetadata(MediaMetadata{
			Title:  s.article.Title,
			URL:    s.article.URL,
			Chunk:  index,
			Chunks: len(s.chunks),
			Text:   s.chunks[index].Text,
		})
	}

	id, seq, ctx := s.id, s.seq, s.ctx
	fn := c.render(s.chunks[index].Text)
	go func() {
		clip, err := s.cache.GetOrCreate(ctx, index, fn)
		c.post(synthesisDoneMsg{session: id, seq: seq, index: index, clip: clip, err: err})
	}()
}

// render returns the cache function that synthesizes and encodes text.
func (c *Controller) render(text string) cache.Func {
	return func(ctx context.Context) ([]byte, error) {
		samples, err := c.synth.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			return nil, ErrEmptySynthesisResult
		}
		return wav.Encode(samples, c.synth.SampleRate()), nil
	}
}

func (c *Controller) play(s *session, clip *cache.Clip) {
	data, err := clip.WAV()
	if err != nil {
		c.fail(s, "play", err)
		return
	}

	id, seq := s.id, s.seq
	if err := c.device.Play(data, func() {
		c.post(playbackEndedMsg{session: id, seq: seq})
	}); err != nil {
		c.fail(s, "play", err)
		return
	}
	s.loaded = true
	c.setState(StatePlaying)
	c.setMediaStatus(s, StatusPlaying)

	for i := 1; i <= c.playback.Prefetch; i++ {
		next := s.cursor + i
		if next >= len(s.chunks) {
			break
		}
		s.cache.Prefetch(next, c.render(s.chunks[next].Text))
	}
}

func (c *Controller) advance(s *session) {
	if s.cursor+1 >= len(s.chunks) {
		s.cursor = len(s.chunks)
		c.logger.Info("article finished", "session", s.id, "elapsed", time.Since(s.started).Round(time.Millisecond))
		c.teardown(nil)
		return
	}
	c.request(s, s.cursor+1)
}

// fail ends the session because the active chunk could not be processed.
func (c *Controller) fail(s *session, op string, err error) {
	if s == nil {
		return
	}
	serr := &SessionError{Op: op, Index: s.cursor, Err: err}
	c.logger.Error("session terminated", "session", s.id, "err", serr)
	c.teardown(serr)
}

// teardown releases everything the session holds and returns to Idle.
func (c *Controller) teardown(cause error) {
	s := c.session
	if s == nil {
		return
	}

	s.seq++
	s.cancel()
	if s.loaded {
		if err := c.device.Stop(); err != nil {
			c.logger.Warn("unable to stop device", "err", err)
		}
		s.loaded = false
	}
	c.setState(StateStopped)

	if s.wakeLock != nil {
		if err := s.wakeLock.Release(); err != nil {
			c.logger.Warn("unable to release wake lock", "err", err)
		}
		s.wakeLock = nil
	}

	stats := s.cache.Stats()
	s.cache.ReleaseAll()
	s.cursor = 0
	s.ready = nil
	s.inflight = false

	if s.mediaRegistered {
		c.media.SetPlaybackStatus(StatusStopped)
		if err := c.media.Unregister(); err != nil {
			c.logger.Warn("unable to unregister media controls", "err", err)
		}
		s.mediaRegistered = false
	}

	c.session = nil
	c.setState(StateIdle)
	c.logger.Debug("session released", "session", s.id, "hits", stats.Hits, "misses", stats.Misses)

	c.cbMu.RLock()
	fn := c.onSessionEnd
	c.cbMu.RUnlock()
	if fn != nil {
		c.notes.post(func() { fn(cause) })
	}
}

func (c *Controller) setState(to StateType) {
	from := c.machine.Current()
	if from == to {
		return
	}
	if !c.machine.Transition(to) {
		c.logger.Error("invalid state transition", "from", from, "to", to)
		return
	}

	c.cbMu.RLock()
	fn := c.onStateChange
	c.cbMu.RUnlock()
	if fn != nil {
		c.notes.post(func() { fn(to) })
	}
}

func (c *Controller) notifyChunk(index, total int) {
	c.cbMu.RLock()
	fn := c.onChunkChange
	c.cbMu.RUnlock()
	if fn != nil {
		c.notes.post(func() { fn(index, total) })
	}
}

func (c *Controller) setMediaStatus(s *session, status PlaybackStatus) {
	if s != nil && s.mediaRegistered {
		c.media.SetPlaybackStatus(status)
	}
}

// publish copies the loop's state into the snapshot read by Snapshot.
func (c *Controller) publish() {
	snap := Snapshot{State: c.machine.Current()}
	if s := c.session; s != nil {
		seg := s.current()
		snap.SessionID = s.id
		snap.Index = s.cursor
		snap.Total = len(s.chunks)
		snap.Text = seg.Text
		snap.Title = s.article.Title
		snap.Started = s.started
	}

	c.snapMu.Lock()
	c.snapshot = snap
	c.snapMu.Unlock()
}
