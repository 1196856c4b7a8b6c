// Package piper provides a synthesis backend that runs the Piper binary.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/readaloud/tts"
)

// ErrNotInstalled is returned when the piper binary cannot be found.
var ErrNotInstalled = errors.New("piper binary not found")

const readSize = 8192

// Backend synthesizes speech with one Piper process per request, streaming
// its raw 16-bit mono output as it is produced.
type Backend struct {
	config tts.PiperConfig
	binary string
	model  string
	voice  tts.Voice
	logger *log.Logger
}

// New creates a Piper backend. The binary is resolved on PATH and the model
// path is expanded.
func New(config tts.PiperConfig, logger *log.Logger) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.WithPrefix("piper")
	}

	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, config.Binary)
	}
	model, err := homedir.Expand(config.Model)
	if err != nil {
		return nil, fmt.Errorf("unable to expand model path: %w", err)
	}

	return &Backend{
		config: config,
		binary: binary,
		model:  model,
		voice:  VoiceFromModel(model),
		logger: logger,
	}, nil
}

// VoiceFromModel derives a voice from a Piper model file name such as
// en_US-lessac-medium.onnx, whose id is "en-us".
func VoiceFromModel(model string) tts.Voice {
	name := strings.TrimSuffix(filepath.Base(model), filepath.Ext(model))
	lang, rest, _ := strings.Cut(name, "-")
	return tts.Voice{
		ID:       strings.ToLower(strings.ReplaceAll(lang, "_", "-")),
		Name:     rest,
		Language: strings.ReplaceAll(lang, "_", "-"),
	}
}

// SampleRate returns the model's sample rate.
func (b *Backend) SampleRate() int {
	return b.config.SampleRate
}

// Voices returns the single voice of the configured model.
func (b *Backend) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{b.voice}, nil
}

// SetVoice accepts only the configured model's voice.
func (b *Backend) SetVoice(ctx context.Context, id string) error {
	if id != b.voice.ID {
		return fmt.Errorf("voice not found: %s (model provides %s)", id, b.voice.ID)
	}
	return nil
}

func (b *Backend) args() []string {
	args := []string{
		"--model", b.model,
		"--output-raw",
		"--length_scale", strconv.FormatFloat(b.config.LengthScale, 'f', -1, 64),
	}
	if b.config.SpeakerID > 0 {
		args = append(args, "--speaker", strconv.Itoa(b.config.SpeakerID))
	}
	return args
}

// Synthesize runs piper for text and emits its output as it arrives.
func (b *Backend) Synthesize(ctx context.Context, text string, emit func([]float32) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.binary, b.args()...)
	cmd.Stdin = strings.NewReader(strings.TrimSpace(text) + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("unable to open piper output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start piper: %w", err)
	}

	readErr := Stream(stdout, emit)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		b.logger.Debug("piper failed", "stderr", strings.TrimSpace(stderr.String()))
		return fmt.Errorf("piper failed: %w", waitErr)
	}
	return readErr
}

// Stream reads raw little-endian 16-bit PCM from r and emits it as
// normalized float samples. A trailing odd byte is dropped.
func Stream(r io.Reader, emit func([]float32) error) error {
	buf := make([]byte, readSize)
	var carry []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) &^ 1
			if whole > 0 {
				if emitErr := emit(Int16ToFloat(data[:whole])); emitErr != nil {
					return emitErr
				}
			}
			carry = append([]byte(nil), data[whole:]...)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to read piper output: %w", err)
		}
	}
}

// Int16ToFloat converts little-endian 16-bit PCM to floats in [-1, 1).
func Int16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}
