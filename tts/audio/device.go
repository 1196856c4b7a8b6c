// Package audio plays WAV clips on the system audio device and signals when
// each clip has been played to the end.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/readaloud/tts/wav"
)

// Errors returned by audio devices.
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrFormatMismatch    = errors.New("clip format does not match device")
)

// DefaultSampleRate is the rate the device is opened at when none is given.
const DefaultSampleRate = 22050

// checkFormat reports whether a decoded clip can be played on a device
// opened at sampleRate with channels channels.
func checkFormat(info wav.Info, sampleRate, channels int) error {
	if info.SampleRate != sampleRate {
		return fmt.Errorf("%w: clip is %d Hz, device is %d Hz", ErrFormatMismatch, info.SampleRate, sampleRate)
	}
	if info.Channels != channels {
		return fmt.Errorf("%w: clip has %d channels, device has %d", ErrFormatMismatch, info.Channels, channels)
	}
	return nil
}

// trackingReader feeds PCM to the device and records how much of it has been
// consumed.
type trackingReader struct {
	mu       sync.Mutex
	reader   *bytes.Reader
	size     int64
	position int64 // atomic
}

func newTrackingReader(data []byte) *trackingReader {
	return &trackingReader{
		reader: bytes.NewReader(data),
		size:   int64(len(data)),
	}
}

func (r *trackingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.reader.Read(p)
	atomic.AddInt64(&r.position, int64(n))
	return n, err
}

// Position returns the number of bytes handed to the device.
func (r *trackingReader) Position() int64 {
	return atomic.LoadInt64(&r.position)
}

// Drained reports whether every byte has been handed to the device.
func (r *trackingReader) Drained() bool {
	return r.Position() >= r.size
}
