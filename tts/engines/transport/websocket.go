package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/readaloud/tts/engines"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsCloseTimeout     = time.Second
	wsReadLimit        = 4 << 20
)

// WebSocket exchanges one JSON text message per envelope over a WebSocket
// connection.
type WebSocket struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex

	out  chan engines.Message
	done chan struct{}
	once sync.Once
}

// DialWebSocket connects to an engine at url.
func DialWebSocket(ctx context.Context, url string, logger *log.Logger) (*WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return newWebSocket(conn, logger), nil
}

// WebSocketDialer returns a dialer that connects to url on every dial.
func WebSocketDialer(url string, logger *log.Logger) engines.Dialer {
	return func(ctx context.Context) (engines.Transport, error) {
		return DialWebSocket(ctx, url, logger)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// UpgradeWebSocket accepts an engine connection on the server side.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, logger *log.Logger) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocket(conn, logger), nil
}

func newWebSocket(conn *websocket.Conn, logger *log.Logger) *WebSocket {
	if logger == nil {
		logger = log.WithPrefix("websocket")
	}
	conn.SetReadLimit(wsReadLimit)
	ws := &WebSocket{
		conn:   conn,
		logger: logger,
		out:    make(chan engines.Message),
		done:   make(chan struct{}),
	}
	go ws.readLoop()
	return ws
}

func (ws *WebSocket) readLoop() {
	defer close(ws.out)

	for {
		var msg engines.Message
		if err := ws.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				select {
				case <-ws.done:
				default:
					ws.logger.Debug("websocket read ended", "err", err)
				}
			}
			return
		}
		select {
		case ws.out <- msg:
		case <-ws.done:
			return
		}
	}
}

// Send writes msg as a JSON text message.
func (ws *WebSocket) Send(ctx context.Context, msg engines.Message) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.conn.WriteJSON(msg)
}

// Messages returns the incoming messages.
func (ws *WebSocket) Messages() <-chan engines.Message {
	return ws.out
}

// Close sends a close frame and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.done)

		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseTimeout))
		ws.writeMu.Unlock()

		err = ws.conn.Close()
	})
	return err
}
