package mpris

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/dgnsrekt/readaloud/tts"
)

func TestPlayerForwardsToHandlers(t *testing.T) {
	var got []string
	record := func(name string) func() {
		return func() { got = append(got, name) }
	}
	p := &player{handlers: tts.MediaHandlers{
		Play:     record("play"),
		Pause:    record("pause"),
		Stop:     record("stop"),
		Previous: record("previous"),
		Next:     record("next"),
	}}

	p.Play()
	p.Pause()
	p.Stop()
	p.Previous()
	p.Next()

	want := []string{"play", "pause", "stop", "previous", "next"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPlayPauseToggles(t *testing.T) {
	tests := []struct {
		status tts.PlaybackStatus
		want   string
	}{
		{tts.StatusPlaying, "pause"},
		{tts.StatusPaused, "play"},
		{tts.StatusStopped, "play"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			var got string
			p := &player{handlers: tts.MediaHandlers{
				Play:  func() { got = "play" },
				Pause: func() { got = "pause" },
			}}
			p.setStatus(tt.status)
			p.PlayPause()
			if got != tt.want {
				t.Errorf("PlayPause while %s called %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestPlayerNilHandlers(t *testing.T) {
	p := &player{}
	if err := p.Next(); err != nil {
		t.Errorf("Next with no handler = %v", err)
	}
	if err := p.PlayPause(); err != nil {
		t.Errorf("PlayPause with no handler = %v", err)
	}
}

func TestMetadata(t *testing.T) {
	m := Metadata(tts.MediaMetadata{
		Title:  "An Article",
		URL:    "https://example.com/a",
		Chunk:  2,
		Chunks: 5,
		Text:   "Third sentence.",
	})

	checks := map[string]any{
		"mpris:trackid":     dbus.ObjectPath("/org/readaloud/chunk/2"),
		"xesam:title":       "An Article",
		"xesam:album":       "3 of 5",
		"xesam:trackNumber": int32(3),
		"xesam:url":         "https://example.com/a",
		"xesam:asText":      "Third sentence.",
	}
	for key, want := range checks {
		v, ok := m[key]
		if !ok {
			t.Errorf("missing %s", key)
			continue
		}
		if v.Value() != want {
			t.Errorf("%s = %v, want %v", key, v.Value(), want)
		}
	}
}

func TestMetadataDefaults(t *testing.T) {
	m := Metadata(tts.MediaMetadata{Chunks: 1})
	if m["xesam:title"].Value() != identity {
		t.Errorf("untitled article should use %q", identity)
	}
	if _, ok := m["xesam:url"]; ok {
		t.Error("empty URL should be omitted")
	}
}

func TestUnregisteredSessionIsInert(t *testing.T) {
	s := NewSession()
	s.SetPlaybackStatus(tts.StatusPlaying)
	s.SetMetadata(tts.MediaMetadata{Title: "x"})
	if err := s.Unregister(); err != nil {
		t.Errorf("Unregister without Register = %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(false).(Noop); !ok {
		t.Error("disabled session should be a Noop")
	}
	if _, ok := New(true).(*Session); !ok {
		t.Error("enabled session should be a Session")
	}
}

func TestPlayerMethodNames(t *testing.T) {
	names := map[string]bool{}
	for _, m := range renamed(introspect.Methods(&player{}), playerMethods) {
		names[m.Name] = true
	}
	for _, want := range []string{"Next", "Previous", "Pause", "PlayPause", "Stop", "Play", "Seek", "SetPosition", "OpenUri"} {
		if !names[want] {
			t.Errorf("missing method %s", want)
		}
	}
	if names["SeekBy"] {
		t.Error("SeekBy should be introspected as Seek")
	}
	if err := (&player{}).SeekBy(5); err != nil {
		t.Errorf("SeekBy = %v", err)
	}
}

func TestRegisterGivesUpOnHungBus(t *testing.T) {
	s := NewSession()
	s.connect = func(ctx context.Context) (*dbus.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Register(ctx, tts.MediaHandlers{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Register blocked for %v", elapsed)
	}
	if s.conn != nil {
		t.Error("session registered after a failed connect")
	}
	if err := s.Unregister(); err != nil {
		t.Errorf("Unregister after failed Register = %v", err)
	}
}

func TestNoopRegister(t *testing.T) {
	if err := (Noop{}).Register(context.Background(), tts.MediaHandlers{}); err != nil {
		t.Errorf("Noop.Register = %v", err)
	}
}
