// Package engines talks to a speech synthesis engine over a message
// channel. The client boots the engine, selects a voice and correlates
// streaming synthesis responses by request id; Serve implements the
// engine side on top of a Backend.
package engines

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/readaloud/tts"
	"github.com/dgnsrekt/readaloud/tts/wav"
)

// Protocol message types and methods.
const (
	TypeReady = "ready"
	// TypeHello asks the engine to announce ready again, for transports
	// where the client may connect after the engine started.
	TypeHello = "hello"

	MethodListVoices = "list_voices"
	MethodSetVoice   = "set_voice"
	MethodSynthesize = "synthesize"
)

// FrameSamples is the largest number of samples the engine sends in one
// frame. It is a multiple of Channels so frames never split a sample pair.
const FrameSamples = 4096

// Channels is the channel count of the samples the engine sends. Samples
// are interleaved, left first.
const Channels = wav.Channels

// Interleave copies each mono sample into every channel.
func Interleave(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}

// Message is the envelope exchanged with the engine. Requests carry Method,
// Args and ID; responses carry the same ID with Result, Samples, Done or
// Error.
type Message struct {
	Type    string          `json:"type,omitempty"`
	Method  string          `json:"method,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Samples []float32       `json:"samples,omitempty"`
	Done    bool            `json:"done,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// terminal reports whether msg completes the request it answers.
func (m Message) terminal() bool {
	return m.Done || m.Error != "" || m.Result != nil
}

// Transport carries messages to and from the engine. Messages is closed when
// the connection is lost or closed.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Messages() <-chan Message
	Close() error
}

// Dialer opens a new transport to the engine.
type Dialer func(ctx context.Context) (Transport, error)

// ReadyInfo is the result carried by the ready message.
type ReadyInfo struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels,omitempty"`
}

// SynthesizeArgs are the arguments of the synthesize method.
type SynthesizeArgs struct {
	Text string `json:"text"`
}

// SetVoiceArgs are the arguments of the set_voice method.
type SetVoiceArgs struct {
	Voice string `json:"voice"`
}

// Backend produces audio for the engine server.
type Backend interface {
	// SampleRate is the rate of every sample the backend emits. Backends
	// emit mono; Serve interleaves to Channels.
	SampleRate() int
	Voices(ctx context.Context) ([]tts.Voice, error)
	SetVoice(ctx context.Context, id string) error
	// Synthesize renders text and passes samples to emit in order.
	Synthesize(ctx context.Context, text string, emit func([]float32) error) error
}

// EngineError is an error reported by the engine for a request.
type EngineError struct {
	Method  string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Method, e.Message)
}
