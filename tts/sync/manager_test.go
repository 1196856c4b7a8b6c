package sync_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/readaloud/tts"
	ttssync "github.com/dgnsrekt/readaloud/tts/sync"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// segments returns chunks of the given word counts.
func segments(words ...int) []tts.Segment {
	segs := make([]tts.Segment, len(words))
	for i, n := range words {
		text := ""
		for j := 0; j < n; j++ {
			text += "word "
		}
		segs[i] = tts.Segment{Index: i, Text: text}
	}
	return segs
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// oneWordPerSecond is a config where every word takes a second.
func oneWordPerSecond() ttssync.Config {
	return ttssync.Config{WordsPerMinute: 60, SmoothingFactor: 0.5, MaxDrift: 4}
}

func TestManagerDefaults(t *testing.T) {
	m := ttssync.NewManager(ttssync.Config{})
	if m.IsRunning() {
		t.Error("new manager should not be running")
	}
	want := time.Duration(float64(time.Minute) / ttssync.DefaultConfig().WordsPerMinute)
	if m.PerWord() != want {
		t.Errorf("PerWord() = %v, want %v", m.PerWord(), want)
	}
	if u := m.Current(); u.Total != 0 || u.Overall != 0 {
		t.Errorf("empty progress = %+v", u)
	}
}

func TestManagerProgress(t *testing.T) {
	c := newClock()
	m := ttssync.NewManager(oneWordPerSecond(), ttssync.WithClock(c.Now))
	m.Start(segments(2, 4, 4))
	defer m.Stop()

	c.Advance(time.Second)
	u := m.Current()
	if u.Index != 0 || u.Total != 3 {
		t.Fatalf("update = %+v", u)
	}
	if !near(u.Chunk, 0.5) || !near(u.Overall, 0.1) {
		t.Errorf("chunk %.3f overall %.3f, want 0.5 and 0.1", u.Chunk, u.Overall)
	}
	if u.Remaining != 9*time.Second {
		t.Errorf("remaining = %v, want 9s", u.Remaining)
	}

	// Running over the estimate holds at the end of the chunk.
	c.Advance(5 * time.Second)
	if u := m.Current(); u.Chunk != 1 || !near(u.Overall, 0.2) {
		t.Errorf("overrun update = %+v", u)
	}
}

func TestManagerPause(t *testing.T) {
	c := newClock()
	m := ttssync.NewManager(oneWordPerSecond(), ttssync.WithClock(c.Now))
	m.Start(segments(4))
	defer m.Stop()

	c.Advance(time.Second)
	m.Pause()
	m.Pause()
	c.Advance(10 * time.Second)

	u := m.Current()
	if !u.Paused || !near(u.Chunk, 0.25) {
		t.Errorf("paused update = %+v", u)
	}

	m.Resume()
	c.Advance(time.Second)
	if u := m.Current(); u.Paused || !near(u.Chunk, 0.5) {
		t.Errorf("resumed update = %+v", u)
	}
}

func TestManagerCorrectsRate(t *testing.T) {
	tests := []struct {
		name     string
		measured time.Duration
		next     int
		want     time.Duration
	}{
		// Two words in 4s observe 2s per word; blended half and half with 1s.
		{"slower", 4 * time.Second, 1, 1500 * time.Millisecond},
		{"faster", time.Second, 1, 750 * time.Millisecond},
		// Observations are clamped to MaxDrift.
		{"clamped", 40 * time.Second, 1, 2500 * time.Millisecond},
		// Jumps do not measure anything.
		{"seek", 4 * time.Second, 2, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock()
			m := ttssync.NewManager(oneWordPerSecond(), ttssync.WithClock(c.Now))
			m.Start(segments(2, 2, 2))
			defer m.Stop()

			c.Advance(tt.measured)
			m.SetChunk(tt.next)
			if got := m.PerWord(); got != tt.want {
				t.Errorf("PerWord() = %v, want %v", got, tt.want)
			}
			if u := m.Current(); u.Index != tt.next || u.Chunk != 0 {
				t.Errorf("after SetChunk update = %+v", u)
			}
		})
	}
}

func TestManagerIgnoresOutOfRangeChunk(t *testing.T) {
	m := ttssync.NewManager(oneWordPerSecond())
	m.Start(segments(1, 1))
	defer m.Stop()

	m.SetChunk(5)
	m.SetChunk(-1)
	if u := m.Current(); u.Index != 0 {
		t.Errorf("index = %d", u.Index)
	}
}

func TestManagerUpdates(t *testing.T) {
	m := ttssync.NewManager(ttssync.Config{UpdateRate: 5 * time.Millisecond})

	updates := make(chan ttssync.Update, 16)
	m.OnUpdate(func(u ttssync.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	m.Start(segments(3, 3))

	select {
	case u := <-updates:
		if u.Total != 2 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	m.Stop()
	m.Stop()
	if m.IsRunning() {
		t.Error("manager still running after Stop")
	}
}

func TestManagerRestart(t *testing.T) {
	c := newClock()
	m := ttssync.NewManager(oneWordPerSecond(), ttssync.WithClock(c.Now))
	m.Start(segments(1, 1, 1))
	m.SetChunk(2)

	m.Start(segments(5))
	defer m.Stop()
	if u := m.Current(); u.Index != 0 || u.Total != 1 {
		t.Errorf("restarted update = %+v", u)
	}
}
