// Package wakelock keeps the screen awake while an article is being read,
// using the freedesktop ScreenSaver inhibit interface.
package wakelock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"

	"github.com/dgnsrekt/readaloud/internal/platform/bus"
	"github.com/dgnsrekt/readaloud/tts"
)

// ErrReleased is returned when a handle is released twice.
var ErrReleased = errors.New("wake lock already released")

const (
	screenSaverDest  = "org.freedesktop.ScreenSaver"
	screenSaverPath  = dbus.ObjectPath("/org/freedesktop/ScreenSaver")
	screenSaverIface = "org.freedesktop.ScreenSaver"

	defaultApp    = "readaloud"
	defaultReason = "Reading an article aloud"
)

// inhibitor is the part of the bus the wake lock needs.
type inhibitor interface {
	Inhibit(ctx context.Context, app, reason string) (uint32, error)
	UnInhibit(cookie uint32) error
	Close() error
}

// connector opens a fresh inhibitor for one lock.
type connector func(ctx context.Context) (inhibitor, error)

// ScreenSaver acquires wake locks through org.freedesktop.ScreenSaver.
type ScreenSaver struct {
	app     string
	reason  string
	connect connector
	logger  *log.Logger
}

// Option configures a ScreenSaver.
type Option func(*ScreenSaver)

// WithReason sets the reason shown by the desktop.
func WithReason(reason string) Option {
	return func(s *ScreenSaver) { s.reason = reason }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *ScreenSaver) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScreenSaver creates a wake lock backed by the session bus.
func NewScreenSaver(opts ...Option) *ScreenSaver {
	s := &ScreenSaver{
		app:     defaultApp,
		reason:  defaultReason,
		connect: connectSessionBus,
		logger:  log.WithPrefix("wakelock"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New returns a ScreenSaver when enabled and a no-op lock otherwise.
func New(enabled bool, opts ...Option) tts.WakeLock {
	if !enabled {
		return Noop{}
	}
	return NewScreenSaver(opts...)
}

// Acquire inhibits the screen saver until the handle is released.
func (s *ScreenSaver) Acquire(ctx context.Context) (tts.WakeLockHandle, error) {
	inh, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	cookie, err := inh.Inhibit(ctx, s.app, s.reason)
	if err != nil {
		_ = inh.Close()
		return nil, fmt.Errorf("inhibit screen saver: %w", err)
	}
	s.logger.Debug("screen saver inhibited", "cookie", cookie)
	return &handle{bus: inh, cookie: cookie, logger: s.logger}, nil
}

type handle struct {
	bus    inhibitor
	cookie uint32
	logger *log.Logger

	mu       sync.Mutex
	released bool
}

// Release lifts the inhibition and closes the bus connection.
func (h *handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	h.released = true

	err := h.bus.UnInhibit(h.cookie)
	if closeErr := h.bus.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	h.logger.Debug("screen saver released", "cookie", h.cookie, "err", err)
	return err
}

// dbusInhibitor talks to the ScreenSaver service on a private connection.
type dbusInhibitor struct {
	conn *dbus.Conn
}

func connectSessionBus(ctx context.Context) (inhibitor, error) {
	conn, err := bus.ConnectSession(ctx)
	if err != nil {
		return nil, err
	}
	return &dbusInhibitor{conn: conn}, nil
}

func (d *dbusInhibitor) object() dbus.BusObject {
	return d.conn.Object(screenSaverDest, screenSaverPath)
}

func (d *dbusInhibitor) Inhibit(ctx context.Context, app, reason string) (uint32, error) {
	var cookie uint32
	err := d.object().CallWithContext(ctx, screenSaverIface+".Inhibit", 0, app, reason).Store(&cookie)
	return cookie, err
}

func (d *dbusInhibitor) UnInhibit(cookie uint32) error {
	return d.object().Call(screenSaverIface+".UnInhibit", 0, cookie).Err
}

func (d *dbusInhibitor) Close() error {
	return d.conn.Close()
}

// Noop is a wake lock that does nothing.
type Noop struct{}

// Acquire returns a handle that does nothing.
func (Noop) Acquire(context.Context) (tts.WakeLockHandle, error) {
	return &noopHandle{}, nil
}

type noopHandle struct {
	mu       sync.Mutex
	released bool
}

func (h *noopHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.released = true
	return nil
}
