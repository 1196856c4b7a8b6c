package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/readaloud/tts"
)

const (
	// DefaultBootTimeout bounds how long the engine has to announce ready.
	DefaultBootTimeout = 10 * time.Second
	// DefaultVoice is the preferred voice identifier.
	DefaultVoice = "en-us"
	// DefaultSampleRate is assumed until the engine reports its own.
	DefaultSampleRate = 22050
)

// Client is the RPC client to a synthesis engine. It is safe for concurrent
// use and implements tts.Synthesizer.
type Client struct {
	dial           Dialer
	voice          string
	bootTimeout    time.Duration
	requestTimeout time.Duration
	limiter        *rate.Limiter
	logger         *log.Logger

	pending *pendingTable

	mu         sync.Mutex
	transport  Transport
	boot       *bootAttempt
	sampleRate int
	selected   tts.Voice
	closed     bool
}

// bootAttempt is shared by every caller waiting for the same boot.
type bootAttempt struct {
	done chan struct{}
	err  error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithVoice sets the preferred voice identifier.
func WithVoice(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.voice = id
		}
	}
}

// WithBootTimeout sets how long to wait for the engine to become ready.
func WithBootTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.bootTimeout = d
		}
	}
}

// WithRequestTimeout bounds every request; zero means no bound beyond the
// caller's context.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// WithRateLimit limits requests to perSecond with the given burst. Zero
// disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client that reaches the engine through dial. Nothing
// is dialed until the first request.
func NewClient(dial Dialer, opts ...ClientOption) *Client {
	c := &Client{
		dial:        dial,
		voice:       DefaultVoice,
		bootTimeout: DefaultBootTimeout,
		logger:      log.WithPrefix("engine"),
		pending:     newPendingTable(),
		sampleRate:  DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Boot dials the engine and waits until it is ready. Concurrent callers
// share one boot. A failed boot is forgotten so the next call retries.
func (c *Client) Boot(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return tts.ErrEngineClosed
	}
	b := c.boot
	if b == nil {
		b = &bootAttempt{done: make(chan struct{})}
		c.boot = b
		go c.runBoot(b)
	}
	c.mu.Unlock()

	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) runBoot(b *bootAttempt) {
	err := c.bootOnce()
	if err != nil {
		c.logger.Error("engine boot failed", "err", err)
		c.mu.Lock()
		if c.boot == b {
			c.boot = nil
		}
		c.mu.Unlock()
	}
	b.err = err
	close(b.done)
}

func (c *Client) bootOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.bootTimeout)
	defer cancel()

	start := time.Now()
	t, err := c.dial(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", tts.ErrInitializationTimeout, err)
		}
		return fmt.Errorf("unable to reach engine: %w", err)
	}

	ready := make(chan Message, 1)
	gone := make(chan struct{})
	go c.readLoop(t, ready, gone)

	if err := t.Send(ctx, Message{Type: TypeHello}); err != nil {
		_ = t.Close()
		return fmt.Errorf("unable to greet engine: %w", err)
	}

	var info ReadyInfo
	select {
	case msg := <-ready:
		if len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, &info); err != nil {
				c.logger.Warn("malformed ready message", "err", err)
			}
		}
	case <-gone:
		return fmt.Errorf("%w: connection closed before ready", tts.ErrEngineClosed)
	case <-ctx.Done():
		_ = t.Close()
		return fmt.Errorf("%w after %v", tts.ErrInitializationTimeout, c.bootTimeout)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = t.Close()
		return tts.ErrEngineClosed
	}
	c.transport = t
	if info.Channels > 0 && info.Channels != Channels {
		c.logger.Warn("engine channel count differs from playback", "engine", info.Channels, "playback", Channels)
	}
	if info.SampleRate > 0 {
		c.sampleRate = info.SampleRate
	}
	c.mu.Unlock()

	c.logger.Info("engine ready", "sample_rate", c.SampleRate(), "elapsed", time.Since(start).Round(time.Millisecond))

	if err := c.selectVoice(ctx, t); err != nil {
		c.logger.Warn("voice selection failed, using engine default", "err", err)
	}
	return nil
}

// readLoop dispatches responses until the transport is lost.
func (c *Client) readLoop(t Transport, ready chan<- Message, gone chan<- struct{}) {
	defer close(gone)

	for msg := range t.Messages() {
		if msg.Type == TypeReady {
			select {
			case ready <- msg:
			default:
			}
			continue
		}
		if !c.pending.dispatch(msg) {
			c.logger.Debug("dropping message",
				"err", tts.ErrTransportDesync, "id", msg.ID, "samples", len(msg.Samples), "done", msg.Done)
		}
	}

	c.mu.Lock()
	lost := c.transport == t
	if lost {
		c.transport = nil
		c.boot = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if lost && !closed {
		c.logger.Warn("engine connection lost")
	}
	c.pending.failAll(t, fmt.Errorf("%w: connection lost", tts.ErrEngineClosed))
}

func (c *Client) selectVoice(ctx context.Context, t Transport) error {
	msg, err := c.call(ctx, t, MethodListVoices, nil)
	if err != nil {
		return err
	}
	var voices []tts.Voice
	if err := json.Unmarshal(msg.Result, &voices); err != nil {
		return fmt.Errorf("unable to decode voices: %w", err)
	}

	voice, ok := SelectVoice(voices, c.voice)
	if !ok {
		return errors.New("engine offers no voices")
	}
	if _, err := c.call(ctx, t, MethodSetVoice, SetVoiceArgs{Voice: voice.ID}); err != nil {
		return err
	}

	c.mu.Lock()
	c.selected = voice
	c.mu.Unlock()
	c.logger.Debug("voice selected", "voice", voice.ID, "preferred", c.voice)
	return nil
}

// SelectVoice returns the voice whose id equals preferred, else the first
// voice.
func SelectVoice(voices []tts.Voice, preferred string) (tts.Voice, bool) {
	for _, v := range voices {
		if v.ID == preferred {
			return v, true
		}
	}
	if len(voices) == 0 {
		return tts.Voice{}, false
	}
	return voices[0], true
}

// Invoke sends one request and returns the engine's result.
func (c *Client) Invoke(ctx context.Context, method string, args any) (json.RawMessage, error) {
	t, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := c.call(ctx, t, method, args)
	if err != nil {
		return nil, err
	}
	return msg.Result, nil
}

// Synthesize returns the samples for text. Whitespace-only text returns an
// empty result without contacting the engine.
func (c *Client) Synthesize(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	t, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pc, err := c.send(ctx, t, MethodSynthesize, SynthesizeArgs{Text: text})
	if err != nil {
		return nil, err
	}
	defer c.pending.remove(pc.id)

	if _, err := c.await(ctx, pc); err != nil {
		return nil, err
	}

	samples := pc.samples()
	if len(samples) == 0 {
		return nil, tts.ErrEmptySynthesisResult
	}
	return samples, nil
}

// ready boots the engine if needed, waits for the rate limiter and returns
// the live transport.
func (c *Client) ready(ctx context.Context) (Transport, error) {
	if err := c.Boot(ctx); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	t := c.transport
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, tts.ErrEngineClosed
	}
	if t == nil {
		return nil, fmt.Errorf("%w: connection lost", tts.ErrEngineClosed)
	}
	return t, nil
}

// call sends a request over t and waits for its terminal response.
func (c *Client) call(ctx context.Context, t Transport, method string, args any) (Message, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pc, err := c.send(ctx, t, method, args)
	if err != nil {
		return Message{}, err
	}
	defer c.pending.remove(pc.id)
	return c.await(ctx, pc)
}

func (c *Client) send(ctx context.Context, t Transport, method string, args any) (*call, error) {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("unable to encode %s args: %w", method, err)
		}
		raw = b
	}

	pc := c.pending.add(method, t)
	if err := t.Send(ctx, Message{Method: method, Args: raw, ID: pc.id}); err != nil {
		c.pending.remove(pc.id)
		return nil, fmt.Errorf("unable to send %s: %w", method, err)
	}
	return pc, nil
}

func (c *Client) await(ctx context.Context, pc *call) (Message, error) {
	select {
	case <-pc.done:
		return pc.outcome()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// SampleRate returns the rate of the samples returned by Synthesize.
func (c *Client) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// Voice returns the voice selected during boot.
func (c *Client) Voice() tts.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Close tears down the transport and fails every pending request with
// tts.ErrEngineClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.transport
	c.transport = nil
	c.boot = nil
	c.mu.Unlock()

	c.pending.failAll(nil, tts.ErrEngineClosed)
	if t != nil {
		return t.Close()
	}
	return nil
}
