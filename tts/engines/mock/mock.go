// Package mock provides a deterministic synthesis backend for tests and
// for running without a speech engine installed.
package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/readaloud/tts"
)

// Voices offered by the mock backend.
var defaultVoices = []tts.Voice{
	{ID: "en-us", Name: "Mock US English", Language: "en-US"},
	{ID: "en-gb", Name: "Mock British English", Language: "en-GB"},
}

// tone frequency per voice, so tests can tell voices apart.
var voiceFrequency = map[string]float64{
	"en-us": 440,
	"en-gb": 330,
}

const amplitude = 0.2

// Backend renders a sine tone whose length is proportional to the number of
// words in the text.
type Backend struct {
	config tts.MockConfig

	mu      sync.Mutex
	voice   string
	voices  []tts.Voice
	failure error
	empty   bool
	calls   int
	texts   []string
}

// New creates a mock backend.
func New(config tts.MockConfig) *Backend {
	if config.SampleRate <= 0 {
		config.SampleRate = tts.DefaultMockConfig().SampleRate
	}
	if config.SecondsPerWord <= 0 {
		config.SecondsPerWord = tts.DefaultMockConfig().SecondsPerWord
	}
	return &Backend{
		config: config,
		voice:  defaultVoices[0].ID,
		voices: append([]tts.Voice(nil), defaultVoices...),
	}
}

// SampleRate returns the rate of the generated tone.
func (b *Backend) SampleRate() int {
	return b.config.SampleRate
}

// Voices returns the available voices.
func (b *Backend) Voices(ctx context.Context) ([]tts.Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tts.Voice(nil), b.voices...), nil
}

// SetVoice selects a voice by id.
func (b *Backend) SetVoice(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.voices {
		if v.ID == id {
			b.voice = id
			return nil
		}
	}
	return fmt.Errorf("voice not found: %s", id)
}

// Synthesize emits the tone for text after the configured latency.
func (b *Backend) Synthesize(ctx context.Context, text string, emit func([]float32) error) error {
	b.mu.Lock()
	b.calls++
	b.texts = append(b.texts, text)
	failure, empty, voice, latency := b.failure, b.empty, b.voice, b.config.Latency
	b.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}
	if empty {
		return nil
	}
	return emit(Tone(text, voiceFrequency[voice], b.config.SampleRate, b.config.SecondsPerWord))
}

// Tone returns a sine wave lasting secondsPerWord for every word in text,
// at least one word long.
func Tone(text string, frequency float64, sampleRate int, secondsPerWord float64) []float32 {
	if frequency <= 0 {
		frequency = 440
	}
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}

	n := int(float64(words) * secondsPerWord * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
	}
	return samples
}

// Test control methods

// SetFailure makes every synthesis fail with err; nil clears it.
func (b *Backend) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// SetEmpty makes synthesis complete without producing samples.
func (b *Backend) SetEmpty(empty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.empty = empty
}

// SetVoices replaces the offered voices.
func (b *Backend) SetVoices(voices []tts.Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append([]tts.Voice(nil), voices...)
}

// SetLatency changes the simulated processing delay.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Latency = d
}

// Voice returns the selected voice id.
func (b *Backend) Voice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice
}

// Calls returns the number of synthesis requests received.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Texts returns the texts synthesized so far, in arrival order.
func (b *Backend) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}
