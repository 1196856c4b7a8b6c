// Package bus opens private session bus connections for the platform
// integrations.
package bus

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Dialer opens a session bus connection. It blocks until the connection is
// authenticated.
type Dialer func(opts ...dbus.ConnOption) (*dbus.Conn, error)

// ConnectSession opens a private session bus connection, giving up when ctx
// is done. The connection outlives ctx; a connection that completes after
// ctx expired is closed.
func ConnectSession(ctx context.Context) (*dbus.Conn, error) {
	return connect(ctx, dbus.ConnectSessionBus)
}

type result struct {
	conn *dbus.Conn
	err  error
}

func connect(ctx context.Context, dial Dialer) (*dbus.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan result, 1)
	go func() {
		conn, err := dial()
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
