package tts

import (
	"errors"
	"fmt"
)

// Common errors for the playback engine.
var (
	// Engine errors
	ErrInitializationTimeout = errors.New("synthesis engine did not become ready in time")
	ErrEmptySynthesisResult  = errors.New("synthesis returned no audio")
	ErrTransportDesync       = errors.New("response for unknown request")
	ErrEngineClosed          = errors.New("synthesis engine closed")

	// Resource errors
	ErrResourceAcquisition = errors.New("resource unavailable")

	// Controller errors
	ErrSessionCancelled = errors.New("session cancelled")
	ErrControllerClosed = errors.New("controller closed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Article errors
	ErrUnknownFormat = errors.New("unknown article format")
)

// IsRecoverableError reports whether err leaves the session usable.
// Recoverable errors are logged and never end a session.
func IsRecoverableError(err error) bool {
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, ErrResourceAcquisition),
		errors.Is(err, ErrTransportDesync):
		return true
	}
	return false
}

// SessionError describes why a playback session was terminated.
type SessionError struct {
	Op    string // Operation that failed, "synthesize" or "play"
	Index int    // Chunk index being processed
	Err   error  // The underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s chunk %d: unknown error", e.Op, e.Index)
	}
	return fmt.Sprintf("%s chunk %d: %v", e.Op, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether starting a new session may succeed.
func (e *SessionError) Retryable() bool {
	return errors.Is(e.Err, ErrInitializationTimeout) || errors.Is(e.Err, ErrEngineClosed)
}
