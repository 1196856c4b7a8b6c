package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/readaloud/tts"
)

var (
	playingColor = lipgloss.AdaptiveColor{Light: "#00A66F", Dark: "#04B575"}
	pausedColor  = lipgloss.AdaptiveColor{Light: "#B58900", Dark: "#ECFD65"}
	busyColor    = lipgloss.AdaptiveColor{Light: "#0077CC", Dark: "#00AAFF"}
	idleColor    = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF5F87"}

	titleStyle   = lipgloss.NewStyle().Bold(true)
	counterStyle = lipgloss.NewStyle().Foreground(idleColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// Status is the status line shown above the article.
type Status struct {
	State     tts.StateType
	Index     int
	Total     int
	Remaining time.Duration
	Err       error
}

// Reset returns the status to the not-playing affordance, keeping err.
func (s *Status) Reset(err error) {
	*s = Status{State: tts.StateIdle, Err: err}
}

func stateIcon(state tts.StateType) (string, lipgloss.TerminalColor) {
	switch state {
	case tts.StatePlaying:
		return "▶", playingColor
	case tts.StatePaused:
		return "⏸", pausedColor
	case tts.StateSynthesizing:
		return "⟳", busyColor
	case tts.StateStopped:
		return "◼", idleColor
	default:
		return "■", idleColor
	}
}

// Render returns the status line, truncated to width. spin replaces the
// icon while synthesizing.
func (s Status) Render(width int, spin string) string {
	icon, color := stateIcon(s.State)
	if s.State == tts.StateSynthesizing && spin != "" {
		icon = spin
	}

	parts := []string{
		lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%s %s", icon, s.label())),
	}
	if s.State.IsActive() && s.Total > 0 {
		parts = append(parts, counterStyle.Render(fmt.Sprintf("%d/%d", s.Index+1, s.Total)))
		if s.Remaining > 0 {
			parts = append(parts, counterStyle.Render("~"+formatRemaining(s.Remaining)+" left"))
		}
	}
	if s.Err != nil && !s.State.IsActive() {
		parts = append(parts, errorStyle.Render("✗ "+s.Err.Error()))
	}

	line := strings.Join(parts, "  ")
	if width > 0 {
		line = truncate.StringWithTail(line, uint(width), "…") //nolint:gosec
	}
	return line
}

func (s Status) label() string {
	switch s.State {
	case tts.StatePlaying:
		return "Reading"
	case tts.StatePaused:
		return "Paused"
	case tts.StateSynthesizing:
		return "Preparing"
	default:
		return "Stopped"
	}
}

// formatRemaining renders d as 1h02m, 3m05s or 12s.
func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
