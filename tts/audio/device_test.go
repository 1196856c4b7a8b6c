package audio

import (
	"errors"
	"io"
	"testing"

	"github.com/dgnsrekt/readaloud/tts/wav"
)

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		name    string
		info    wav.Info
		wantErr bool
	}{
		{"match", wav.Info{SampleRate: 22050, Channels: 2}, false},
		{"rate mismatch", wav.Info{SampleRate: 16000, Channels: 2}, true},
		{"channel mismatch", wav.Info{SampleRate: 22050, Channels: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFormat(tt.info, 22050, 2)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrFormatMismatch) {
				t.Errorf("expected ErrFormatMismatch, got %v", err)
			}
		})
	}
}

func TestTrackingReader(t *testing.T) {
	r := newTrackingReader(make([]byte, 10))

	if r.Drained() {
		t.Fatal("new reader should not be drained")
	}

	buf := make([]byte, 4)
	if n, err := r.Read(buf); n != 4 || err != nil {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if got := r.Position(); got != 4 {
		t.Errorf("Position() = %d, want 4", got)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rest) != 6 {
		t.Errorf("read %d remaining bytes, want 6", len(rest))
	}
	if !r.Drained() {
		t.Error("reader should be drained after reading everything")
	}
}

func TestTrackingReaderEmpty(t *testing.T) {
	r := newTrackingReader(nil)
	if !r.Drained() {
		t.Error("empty reader should be drained immediately")
	}
}
