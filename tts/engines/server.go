package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// ServeOption configures Serve.
type ServeOption func(*server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *log.Logger) ServeOption {
	return func(s *server) {
		if l != nil {
			s.logger = l
		}
	}
}

type server struct {
	transport Transport
	backend   Backend
	logger    *log.Logger
}

// Serve answers requests arriving on t with backend until t is closed or ctx
// is cancelled. Requests are handled concurrently; frames of one request are
// sent in order.
func Serve(ctx context.Context, t Transport, backend Backend, opts ...ServeOption) error {
	s := &server{
		transport: t,
		backend:   backend,
		logger:    log.WithPrefix("engine-server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ready, err := json.Marshal(ReadyInfo{SampleRate: backend.SampleRate(), Channels: Channels})
	if err != nil {
		return err
	}
	announce := Message{Type: TypeReady, Result: ready}
	if err := t.Send(ctx, announce); err != nil {
		return fmt.Errorf("unable to announce ready: %w", err)
	}
	s.logger.Debug("engine ready", "sample_rate", backend.SampleRate())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg, ok := <-t.Messages():
				if !ok {
					return nil
				}
				if msg.Type == TypeHello {
					if err := t.Send(gctx, announce); err != nil {
						s.logger.Debug("unable to announce ready", "err", err)
					}
					continue
				}
				if msg.Method == "" || msg.ID == "" {
					s.logger.Debug("ignoring message without method or id", "type", msg.Type)
					continue
				}
				g.Go(func() error {
					s.handle(gctx, msg)
					return nil
				})
			}
		}
	})

	err = g.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

func (s *server) handle(ctx context.Context, req Message) {
	var err error
	switch req.Method {
	case MethodListVoices:
		err = s.listVoices(ctx, req)
	case MethodSetVoice:
		err = s.setVoice(ctx, req)
	case MethodSynthesize:
		err = s.synthesize(ctx, req)
	default:
		err = fmt.Errorf("unknown method %q", req.Method)
	}
	if err == nil {
		return
	}

	s.logger.Warn("request failed", "method", req.Method, "id", req.ID, "err", err)
	if sendErr := s.transport.Send(ctx, Message{ID: req.ID, Error: err.Error()}); sendErr != nil {
		s.logger.Debug("unable to send error", "err", sendErr)
	}
}

func (s *server) listVoices(ctx context.Context, req Message) error {
	voices, err := s.backend.Voices(ctx)
	if err != nil {
		return err
	}
	return s.reply(ctx, req, voices)
}

func (s *server) setVoice(ctx context.Context, req Message) error {
	var args SetVoiceArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.backend.SetVoice(ctx, args.Voice); err != nil {
		return err
	}
	return s.reply(ctx, req, args)
}

func (s *server) synthesize(ctx context.Context, req Message) error {
	var args SynthesizeArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	frames := 0
	err := s.backend.Synthesize(ctx, args.Text, func(mono []float32) error {
		samples := Interleave(mono, Channels)
		for len(samples) > 0 {
			n := min(len(samples), FrameSamples)
			frame := make([]float32, n)
			copy(frame, samples[:n])
			samples = samples[n:]

			if err := s.transport.Send(ctx, Message{ID: req.ID, Samples: frame}); err != nil {
				return err
			}
			frames++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("synthesized", "id", req.ID, "frames", frames)
	return s.transport.Send(ctx, Message{ID: req.ID, Done: true})
}

func (s *server) reply(ctx context.Context, req Message, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, Message{ID: req.ID, Result: b})
}
