// Package mpris exposes the reader on the session bus as an MPRIS media
// player, so desktop media keys and widgets can control playback.
package mpris

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/dgnsrekt/readaloud/internal/platform/bus"
	"github.com/dgnsrekt/readaloud/tts"
)

const (
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootIface   = "org.mpris.MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"

	// BusName is the well-known name claimed while registered.
	BusName = "org.mpris.MediaPlayer2.readaloud"

	identity = "readaloud"
)

// ErrNameTaken is returned when another process owns BusName.
var ErrNameTaken = errors.New("mpris name already owned")

// Session registers an MPRIS player for the duration of a reading session.
type Session struct {
	logger  *log.Logger
	connect func(context.Context) (*dbus.Conn, error)

	mu     sync.Mutex
	conn   *dbus.Conn
	props  *prop.Properties
	player *player
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates an unregistered MPRIS session.
func NewSession(opts ...Option) *Session {
	s := &Session{logger: log.WithPrefix("mpris"), connect: bus.ConnectSession}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New returns an MPRIS session when enabled and a no-op otherwise.
func New(enabled bool, opts ...Option) tts.MediaSession {
	if !enabled {
		return Noop{}
	}
	return NewSession(opts...)
}

// Register connects to the session bus, exports the player and claims
// BusName. ctx bounds the connection and the name request; the registration
// lasts until Unregister.
func (s *Session) Register(ctx context.Context, handlers tts.MediaHandlers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}

	p := &player{handlers: handlers, status: tts.StatusStopped}
	props, err := export(conn, p)
	if err != nil {
		conn.Close()
		return err
	}

	var reply uint32
	err = conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.RequestName", 0,
		BusName, uint32(dbus.NameFlagDoNotQueue)).Store(&reply)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request name: %w", err)
	}
	if dbus.RequestNameReply(reply) != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return ErrNameTaken
	}

	s.conn = conn
	s.props = props
	s.player = p
	s.logger.Debug("registered", "name", BusName)
	return nil
}

func export(conn *dbus.Conn, p *player) (*prop.Properties, error) {
	root := &root{}
	if err := conn.Export(root, objectPath, rootIface); err != nil {
		return nil, fmt.Errorf("export %s: %w", rootIface, err)
	}
	if err := conn.ExportWithMap(p, playerMethods, objectPath, playerIface); err != nil {
		return nil, fmt.Errorf("export %s: %w", playerIface, err)
	}

	props, err := prop.Export(conn, objectPath, propertyMap())
	if err != nil {
		return nil, fmt.Errorf("export properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       rootIface,
				Methods:    introspect.Methods(root),
				Properties: props.Introspection(rootIface),
			},
			{
				Name:       playerIface,
				Methods:    renamed(introspect.Methods(p), playerMethods),
				Properties: props.Introspection(playerIface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}
	return props, nil
}

// playerMethods maps player methods whose Go names differ from their MPRIS
// names.
var playerMethods = map[string]string{"SeekBy": "Seek"}

func renamed(methods []introspect.Method, names map[string]string) []introspect.Method {
	for i, m := range methods {
		if name, ok := names[m.Name]; ok {
			methods[i].Name = name
		}
	}
	return methods
}

func propertyMap() prop.Map {
	return prop.Map{
		rootIface: {
			"CanQuit":             {Value: false, Emit: prop.EmitTrue},
			"CanRaise":            {Value: false, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Emit: prop.EmitTrue},
			"Identity":            {Value: identity, Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{}, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{}, Emit: prop.EmitTrue},
		},
		playerIface: {
			"PlaybackStatus": {Value: string(tts.StatusStopped), Emit: prop.EmitTrue},
			"Metadata":       {Value: map[string]dbus.Variant{}, Emit: prop.EmitTrue},
			"Rate":           {Value: 1.0, Emit: prop.EmitTrue},
			"MinimumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"MaximumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"Volume":         {Value: 1.0, Emit: prop.EmitTrue},
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"CanGoNext":      {Value: true, Emit: prop.EmitTrue},
			"CanGoPrevious":  {Value: true, Emit: prop.EmitTrue},
			"CanPlay":        {Value: true, Emit: prop.EmitTrue},
			"CanPause":       {Value: true, Emit: prop.EmitTrue},
			"CanSeek":        {Value: false, Emit: prop.EmitTrue},
			"CanControl":     {Value: true, Emit: prop.EmitTrue},
		},
	}
}

// SetPlaybackStatus publishes the playback status.
func (s *Session) SetPlaybackStatus(status tts.PlaybackStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return
	}
	s.player.setStatus(status)
	s.props.SetMust(playerIface, "PlaybackStatus", string(status))
}

// SetMetadata publishes what is being read.
func (s *Session) SetMetadata(meta tts.MediaMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.props == nil {
		return
	}
	s.props.SetMust(playerIface, "Metadata", Metadata(meta))
}

// Unregister releases BusName and closes the connection.
func (s *Session) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	_, err := s.conn.ReleaseName(BusName)
	if closeErr := s.conn.Close(); err == nil {
		err = closeErr
	}
	s.conn = nil
	s.props = nil
	s.player = nil
	s.logger.Debug("unregistered", "err", err)
	return err
}

// Metadata converts meta to the MPRIS metadata map.
func Metadata(meta tts.MediaMetadata) map[string]dbus.Variant {
	title := meta.Title
	if title == "" {
		title = identity
	}
	m := map[string]dbus.Variant{
		"mpris:trackid":     dbus.MakeVariant(dbus.ObjectPath(fmt.Sprintf("/org/readaloud/chunk/%d", meta.Chunk))),
		"xesam:title":       dbus.MakeVariant(title),
		"xesam:album":       dbus.MakeVariant(fmt.Sprintf("%d of %d", meta.Chunk+1, meta.Chunks)),
		"xesam:trackNumber": dbus.MakeVariant(int32(meta.Chunk + 1)),
	}
	if meta.URL != "" {
		m["xesam:url"] = dbus.MakeVariant(meta.URL)
	}
	if meta.Text != "" {
		m["xesam:asText"] = dbus.MakeVariant(meta.Text)
	}
	return m
}

// root implements org.mpris.MediaPlayer2.
type root struct{}

func (root) Raise() *dbus.Error { return nil }
func (root) Quit() *dbus.Error  { return nil }

// player implements org.mpris.MediaPlayer2.Player by forwarding to the
// registered handlers.
type player struct {
	handlers tts.MediaHandlers

	mu     sync.Mutex
	status tts.PlaybackStatus
}

func (p *player) setStatus(status tts.PlaybackStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *player) currentStatus() tts.PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func call(fn func()) *dbus.Error {
	if fn != nil {
		fn()
	}
	return nil
}

func (p *player) Next() *dbus.Error     { return call(p.handlers.Next) }
func (p *player) Previous() *dbus.Error { return call(p.handlers.Previous) }
func (p *player) Pause() *dbus.Error    { return call(p.handlers.Pause) }
func (p *player) Play() *dbus.Error     { return call(p.handlers.Play) }
func (p *player) Stop() *dbus.Error     { return call(p.handlers.Stop) }

func (p *player) PlayPause() *dbus.Error {
	if p.currentStatus() == tts.StatusPlaying {
		return call(p.handlers.Pause)
	}
	return call(p.handlers.Play)
}

// SeekBy is exported as Seek. It does nothing; CanSeek is false.
func (p *player) SeekBy(offset int64) *dbus.Error { return nil }

func (p *player) SetPosition(track dbus.ObjectPath, position int64) *dbus.Error { return nil }

func (p *player) OpenUri(uri string) *dbus.Error { return nil }

// Noop is a media session that does nothing.
type Noop struct{}

func (Noop) Register(context.Context, tts.MediaHandlers) error { return nil }
func (Noop) SetPlaybackStatus(tts.PlaybackStatus)              {}
func (Noop) SetMetadata(tts.MediaMetadata)                     {}
func (Noop) Unregister() error                                 { return nil }
