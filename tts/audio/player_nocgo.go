//go:build nocgo
// +build nocgo

package audio

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Player is unavailable in builds without cgo.
type Player struct{}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPlayerLogger is accepted for API compatibility.
func WithPlayerLogger(*log.Logger) PlayerOption {
	return func(*Player) {}
}

// NewPlayer always fails in builds without cgo.
func NewPlayer(int, ...PlayerOption) (*Player, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrDeviceUnavailable)
}

func (p *Player) Play([]byte, func()) error { return ErrDeviceUnavailable }
func (p *Player) Pause() error              { return nil }
func (p *Player) Resume() error             { return nil }
func (p *Player) Stop() error               { return nil }
func (p *Player) Close() error              { return nil }
