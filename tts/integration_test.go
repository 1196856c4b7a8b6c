package tts_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/tts"
	"github.com/dgnsrekt/readaloud/tts/audio"
	"github.com/dgnsrekt/readaloud/tts/engines"
	"github.com/dgnsrekt/readaloud/tts/engines/mock"
	"github.com/dgnsrekt/readaloud/tts/engines/transport"
	"github.com/dgnsrekt/readaloud/tts/sentence"
	"github.com/dgnsrekt/readaloud/tts/wav"
)

type pipeline struct {
	ctrl    *tts.Controller
	backend *mock.Backend
	client  *engines.Client
	player  *audio.MockPlayer
	ends    chan error
}

func newPipeline(t *testing.T, opts ...tts.Option) *pipeline {
	t.Helper()
	quiet := log.New(io.Discard)

	backend := mock.New(tts.MockConfig{SampleRate: 1000, SecondsPerWord: 0.1})
	client := engines.NewClient(transport.PipeDialer(backend, engines.WithServerLogger(quiet)),
		engines.WithClientLogger(quiet))
	player := audio.NewMockPlayer(audio.WithRealtime(20))

	p := &pipeline{
		backend: backend,
		client:  client,
		player:  player,
		ends:    make(chan error, 4),
	}
	p.ctrl = tts.NewController(sentence.NewParser(), client, player,
		append([]tts.Option{tts.WithLogger(quiet)}, opts...)...)
	p.ctrl.OnSessionEnd(func(err error) { p.ends <- err })

	t.Cleanup(func() {
		_ = p.ctrl.Close()
		_ = client.Close()
	})
	return p
}

func (p *pipeline) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.ends:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	return nil
}

func TestPipelineReadsWholeArticle(t *testing.T) {
	p := newPipeline(t)

	article := tts.Article{
		Title:   "Integration",
		Content: "The quick brown fox. Jumps over the lazy dog! Does it really?",
	}
	if err := p.ctrl.Start(article); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(t); err != nil {
		t.Fatalf("session ended with %v", err)
	}

	want := []string{"The quick brown fox.", "Jumps over the lazy dog!", "Does it really?"}
	texts := p.backend.Texts()
	if len(texts) != len(want) {
		t.Fatalf("engine received %q, want %q", texts, want)
	}
	seen := make(map[string]bool)
	for _, text := range texts {
		seen[text] = true
	}
	for _, text := range want {
		if !seen[text] {
			t.Errorf("chunk %q never synthesized", text)
		}
	}

	var plays []audio.PlaybackEvent
	for _, e := range p.player.History() {
		if e.Type == "play" {
			plays = append(plays, e)
		}
	}
	if len(plays) != 3 {
		t.Fatalf("device started %d clips, want 3", len(plays))
	}
	// Four words at 0.1s each and 1000 Hz.
	if frames := (plays[0].Bytes - wav.HeaderSize) / wav.BlockAlign; frames != 400 {
		t.Errorf("first clip holds %d frames, want 400", frames)
	}
	if p.ctrl.State() != tts.StateIdle {
		t.Errorf("state = %v", p.ctrl.State())
	}
}

func TestPipelineEngineFailure(t *testing.T) {
	p := newPipeline(t)
	p.backend.SetFailure(errors.New("voice model missing"))

	if err := p.ctrl.Start(tts.Article{Content: "Anything at all."}); err != nil {
		t.Fatal(err)
	}
	err := p.wait(t)

	var serr *tts.SessionError
	var eerr *engines.EngineError
	if !errors.As(err, &serr) || !errors.As(err, &eerr) {
		t.Fatalf("session ended with %v", err)
	}
	if eerr.Method != engines.MethodSynthesize {
		t.Errorf("engine error for %q", eerr.Method)
	}
}

func TestPipelineEmptyResult(t *testing.T) {
	p := newPipeline(t)
	p.backend.SetEmpty(true)

	if err := p.ctrl.Start(tts.Article{Content: "Silence please."}); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(t); !errors.Is(err, tts.ErrEmptySynthesisResult) {
		t.Errorf("session ended with %v", err)
	}
}

func TestPipelineRestartAfterStop(t *testing.T) {
	p := newPipeline(t)
	article := tts.Article{Content: "One sentence here. And another one."}

	if err := p.ctrl.Start(article); err != nil {
		t.Fatal(err)
	}
	if !p.player.WaitForPlays(1, 2*time.Second) {
		t.Fatal("nothing played")
	}
	if err := p.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(t); err != nil {
		t.Fatalf("stop ended session with %v", err)
	}

	calls := p.backend.Calls()
	if err := p.ctrl.Start(article); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(t); err != nil {
		t.Fatalf("second session ended with %v", err)
	}
	if p.backend.Calls() <= calls {
		t.Error("restarted session reused audio from the stopped one")
	}
	if p.client.Pending() != 0 {
		t.Errorf("%d requests left pending", p.client.Pending())
	}
}

func TestPipelineRecoversFromBootTimeout(t *testing.T) {
	quiet := log.New(io.Discard)
	backend := mock.New(tts.MockConfig{SampleRate: 1000, SecondsPerWord: 0.1})
	serve := transport.PipeDialer(backend, engines.WithServerLogger(quiet))

	var started atomic.Bool
	dial := func(ctx context.Context) (engines.Transport, error) {
		if started.Load() {
			return serve(ctx)
		}
		// Nothing answers on the other end, so the engine never says ready.
		client, _ := transport.Pipe()
		return client, nil
	}
	client := engines.NewClient(dial,
		engines.WithBootTimeout(50*time.Millisecond),
		engines.WithClientLogger(quiet))
	player := audio.NewMockPlayer(audio.WithRealtime(20))
	ctrl := tts.NewController(sentence.NewParser(), client, player, tts.WithLogger(quiet))
	ends := make(chan error, 4)
	ctrl.OnSessionEnd(func(err error) { ends <- err })
	t.Cleanup(func() {
		_ = ctrl.Close()
		_ = client.Close()
	})
	p := &pipeline{ctrl: ctrl, backend: backend, client: client, player: player, ends: ends}

	article := tts.Article{Content: "First chunk here. Second chunk there."}
	start := time.Now()
	if err := ctrl.Start(article); err != nil {
		t.Fatal(err)
	}
	err := p.wait(t)
	if !errors.Is(err, tts.ErrInitializationTimeout) {
		t.Fatalf("first session ended with %v, want initialization timeout", err)
	}
	var serr *tts.SessionError
	if !errors.As(err, &serr) || !serr.Retryable() {
		t.Errorf("initialization timeout should be a retryable session error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout surfaced after %v", elapsed)
	}
	if ctrl.State() != tts.StateIdle {
		t.Errorf("state after timeout = %v", ctrl.State())
	}

	started.Store(true)
	if err := ctrl.Start(article); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(t); err != nil {
		t.Fatalf("second session ended with %v", err)
	}

	want := []string{"First chunk here.", "Second chunk there."}
	texts := backend.Texts()
	if len(texts) != len(want) {
		t.Fatalf("engine received %q, want %q", texts, want)
	}
	seen := make(map[string]bool)
	for _, text := range texts {
		seen[text] = true
	}
	for _, text := range want {
		if !seen[text] {
			t.Errorf("chunk %q never synthesized", text)
		}
	}
	if player.Plays() != len(want) {
		t.Errorf("device played %d clips, want %d", player.Plays(), len(want))
	}
}
