package tts

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"resource", ErrResourceAcquisition, true},
		{"wrapped resource", fmt.Errorf("wake lock: %w", ErrResourceAcquisition), true},
		{"desync", ErrTransportDesync, true},
		{"timeout", ErrInitializationTimeout, false},
		{"empty result", ErrEmptySynthesisResult, false},
		{"engine closed", ErrEngineClosed, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverableError(tt.err); got != tt.want {
				t.Errorf("IsRecoverableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSessionError(t *testing.T) {
	err := &SessionError{Op: "synthesize", Index: 3, Err: ErrEmptySynthesisResult}

	if got, want := err.Error(), "synthesize chunk 3: synthesis returned no audio"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrEmptySynthesisResult) {
		t.Error("SessionError should unwrap to its cause")
	}

	var serr *SessionError
	if !errors.As(fmt.Errorf("ended: %w", err), &serr) || serr.Index != 3 {
		t.Error("errors.As should find the SessionError")
	}

	if got := (&SessionError{Op: "play"}).Error(); got != "play chunk 0: unknown error" {
		t.Errorf("Error() without cause = %q", got)
	}
}

func TestSessionErrorRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrInitializationTimeout, true},
		{fmt.Errorf("boot: %w", ErrEngineClosed), true},
		{ErrEmptySynthesisResult, false},
		{errors.New("device lost"), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			serr := &SessionError{Op: "synthesize", Err: tt.err}
			if got := serr.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
