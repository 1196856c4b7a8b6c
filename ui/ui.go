// Package ui is the terminal view of a reading session: it shows the
// sentence being read with its neighbours, the playback status and a
// progress bar, and maps keys to controller commands.
package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/readaloud/tts"
	ttssync "github.com/dgnsrekt/readaloud/tts/sync"
)

// Controller is the playback surface driven by the view.
type Controller interface {
	Start(article tts.Article) error
	Pause() error
	Resume() error
	Stop() error
	Previous() error
	Next() error
	Snapshot() tts.Snapshot

	OnStateChange(fn func(tts.StateType))
	OnChunkChange(fn func(index, total int))
	OnSessionEnd(fn func(error))
}

var copyText = clipboard.WriteAll

// NewProgram creates the Bubble Tea program for reading article. Controller
// callbacks are forwarded to the program as messages.
func NewProgram(cfg Config, ctrl Controller, splitter tts.Splitter, article tts.Article) (*tea.Program, error) {
	log.Debug("Starting readaloud", "title", article.Title, "watch", cfg.Watch)

	m := newModel(cfg, ctrl, splitter, article)
	if cfg.Watch && cfg.Path != "" {
		w, err := newWatcher(cfg.Path)
		if err != nil {
			return nil, err
		}
		m.watcher = w
	}

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	p := tea.NewProgram(m, opts...)

	ctrl.OnStateChange(func(s tts.StateType) { p.Send(stateMsg{state: s}) })
	ctrl.OnChunkChange(func(index, total int) { p.Send(chunkMsg{index: index, total: total}) })
	ctrl.OnSessionEnd(func(err error) { p.Send(sessionEndMsg{err: err}) })
	m.tracker.OnUpdate(func(u ttssync.Update) { p.Send(progressMsg(u)) })
	return p, nil
}

type model struct {
	cfg      Config
	ctrl     Controller
	splitter tts.Splitter
	tracker  *ttssync.Manager
	watcher  *watcher

	article  tts.Article
	segments []tts.Segment

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	bar     progress.Model
	status  Status

	width    int
	note     string
	quitting bool
}

func newModel(cfg Config, ctrl Controller, splitter tts.Splitter, article tts.Article) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(busyColor)

	width := int(cfg.Width) //nolint:gosec
	if width <= 0 {
		width = 80
	}

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = width - 4

	return model{
		cfg:      cfg,
		ctrl:     ctrl,
		splitter: splitter,
		tracker:  ttssync.NewManager(ttssync.DefaultConfig()),
		article:  article,
		segments: splitter.Split(article.SpeakableText()),
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		bar:      bar,
		status:   Status{State: tts.StateIdle},
		width:    width,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.start()}
	if m.watcher != nil {
		cmds = append(cmds, m.watcher.next())
	}
	return tea.Batch(cmds...)
}

// do runs a controller command off the update loop.
func do(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{op: op, err: fn()}
	}
}

func (m model) start() tea.Cmd {
	article := m.article
	return do("start", func() error { return m.ctrl.Start(article) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if m.cfg.Width > 0 && m.width > int(m.cfg.Width) { //nolint:gosec
			m.width = int(m.cfg.Width) //nolint:gosec
		}
		m.bar.Width = max(m.width-4, 10)
		m.help.Width = m.width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateMsg:
		m.status.State = msg.state
		switch msg.state {
		case tts.StatePaused:
			m.tracker.Pause()
		case tts.StatePlaying:
			m.tracker.Resume()
		}
		return m, nil

	case chunkMsg:
		if !m.tracker.IsRunning() {
			m.tracker.Start(m.segments)
		}
		m.tracker.SetChunk(msg.index)
		m.status.Index = msg.index
		m.status.Total = msg.total
		m.note = ""
		return m, nil

	case sessionEndMsg:
		m.tracker.Stop()
		m.status.Reset(msg.err)
		if msg.err != nil {
			log.Error("Reading stopped", "err", msg.err)
			return m, nil
		}
		return m, m.bar.SetPercent(0)

	case progressMsg:
		m.status.Remaining = msg.Remaining
		return m, m.bar.SetPercent(msg.Overall)

	case commandDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, tts.ErrControllerClosed) {
			log.Warn("Command failed", "op", msg.op, "err", msg.err)
			m.status.Err = msg.err
		}
		return m, nil

	case articleMsg:
		m.article = msg.article
		m.segments = m.splitter.Split(m.article.SpeakableText())
		m.tracker.Stop()
		m.note = "reloaded " + m.article.Title
		return m, tea.Batch(m.start(), m.watcher.next())

	case watchErrMsg:
		log.Warn("Watch failed", "err", msg.err)
		m.note = "reload failed: " + msg.err.Error()
		if m.watcher != nil {
			return m, m.watcher.next()
		}
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.note = "copy failed: " + msg.err.Error()
		} else {
			m.note = "copied sentence"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.tracker.Stop()
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
		return m, tea.Sequence(do("stop", m.ctrl.Stop), tea.Quit)

	case key.Matches(msg, m.keys.Toggle):
		switch m.status.State {
		case tts.StatePlaying, tts.StateSynthesizing:
			return m, do("pause", m.ctrl.Pause)
		case tts.StatePaused:
			return m, do("resume", m.ctrl.Resume)
		default:
			m.status.Err = nil
			return m, m.start()
		}

	case key.Matches(msg, m.keys.Stop):
		return m, do("stop", m.ctrl.Stop)

	case key.Matches(msg, m.keys.Restart):
		m.status.Err = nil
		return m, m.start()

	case key.Matches(msg, m.keys.Next):
		return m, do("next", m.ctrl.Next)

	case key.Matches(msg, m.keys.Previous):
		return m, do("previous", m.ctrl.Previous)

	case key.Matches(msg, m.keys.Copy):
		text := m.currentText()
		if text == "" {
			return m, nil
		}
		return m, func() tea.Msg { return copiedMsg{err: copyText(text)} }

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// currentText returns the sentence under the cursor, preferring the
// controller's view of it.
func (m model) currentText() string {
	if snap := m.ctrl.Snapshot(); snap.Text != "" {
		return snap.Text
	}
	if m.status.Index < len(m.segments) {
		return m.segments[m.status.Index].Text
	}
	return ""
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := m.article.Title
	if title == "" {
		title = "Untitled"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.status.Render(m.width, m.spinner.View()))
	b.WriteString("\n")
	b.WriteString(m.bar.View())
	b.WriteString("\n\n")
	b.WriteString(m.sentences())
	b.WriteString("\n")
	if m.note != "" {
		b.WriteString(faintStyle.Render(m.note))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// sentences renders the current sentence and cfg.Context neighbours on
// each side.
func (m model) sentences() string {
	if len(m.segments) == 0 {
		return faintStyle.Render("Nothing to read.")
	}

	current := m.status.Index
	if current >= len(m.segments) {
		current = len(m.segments) - 1
	}
	from := max(current-m.cfg.Context, 0)
	to := min(current+m.cfg.Context, len(m.segments)-1)

	highlight := lipgloss.NewStyle().Foreground(lipgloss.Color(m.cfg.HighlightColor)).Bold(true)
	wrap := max(m.width-4, 20)

	var lines []string
	for i := from; i <= to; i++ {
		text := indent.String(wordwrap.String(m.segments[i].Text, wrap), 2)
		if i == current && m.status.State.IsActive() {
			lines = append(lines, highlight.Render(text))
			continue
		}
		lines = append(lines, faintStyle.Render(text))
	}
	return strings.Join(lines, "\n")
}

// Run runs the program until the user quits.
func Run(cfg Config, ctrl Controller, splitter tts.Splitter, article tts.Article) error {
	p, err := NewProgram(cfg, ctrl, splitter, article)
	if err != nil {
		return err
	}
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}
