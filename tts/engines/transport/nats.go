package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/readaloud/tts/engines"
)

// Role selects which side of the engine protocol a NATS transport plays.
type Role int

const (
	// RoleClient publishes requests and receives responses.
	RoleClient Role = iota
	// RoleServer receives requests and publishes responses.
	RoleServer
)

const natsBuffer = 256

// RequestSubject and ResponseSubject name the subjects used under prefix.
func RequestSubject(prefix string) string  { return prefix + ".request" }
func ResponseSubject(prefix string) string { return prefix + ".response" }

// NATS carries engine messages over a NATS subject pair. Every client on the
// same prefix sees every response; responses for other clients are dropped
// by the pending table.
type NATS struct {
	conn    *nats.Conn
	owned   bool
	publish string
	sub     *nats.Subscription
	raw     chan *nats.Msg
	logger  *log.Logger

	out  chan engines.Message
	done chan struct{}
	once sync.Once
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string, timeout time.Duration) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("readaloud"),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// NewNATS creates a transport on conn for role under the subject prefix. If
// owned is true, Close also drains and closes conn.
func NewNATS(conn *nats.Conn, prefix string, role Role, owned bool, logger *log.Logger) (*NATS, error) {
	if logger == nil {
		logger = log.WithPrefix("nats")
	}

	publish, listen := RequestSubject(prefix), ResponseSubject(prefix)
	if role == RoleServer {
		publish, listen = listen, publish
	}

	n := &NATS{
		conn:    conn,
		owned:   owned,
		publish: publish,
		raw:     make(chan *nats.Msg, natsBuffer),
		logger:  logger,
		out:     make(chan engines.Message),
		done:    make(chan struct{}),
	}
	sub, err := conn.ChanSubscribe(listen, n.raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", listen, err)
	}
	n.sub = sub
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	go n.readLoop()
	return n, nil
}

// NATSDialer returns a dialer that connects a client transport on every
// dial.
func NATSDialer(url, prefix string, logger *log.Logger) engines.Dialer {
	return func(ctx context.Context) (engines.Transport, error) {
		timeout := 5 * time.Second
		if d, ok := ctx.Deadline(); ok {
			timeout = time.Until(d)
		}
		conn, err := ConnectNATS(url, timeout)
		if err != nil {
			return nil, err
		}
		t, err := NewNATS(conn, prefix, RoleClient, true, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return t, nil
	}
}

func (n *NATS) readLoop() {
	defer close(n.out)

	for {
		select {
		case <-n.done:
			return
		case m := <-n.raw:
			var msg engines.Message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				n.logger.Warn("dropping malformed message", "subject", m.Subject, "err", err)
				continue
			}
			select {
			case n.out <- msg:
			case <-n.done:
				return
			}
		}
	}
}

// Send publishes msg.
func (n *NATS) Send(ctx context.Context, msg engines.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-n.done:
		return ErrClosed
	default:
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.publish, b)
}

// Messages returns the incoming messages.
func (n *NATS) Messages() <-chan engines.Message {
	return n.out
}

// Close unsubscribes, and closes the connection when it is owned.
func (n *NATS) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.sub.Unsubscribe()
		if n.owned {
			if drainErr := n.conn.Drain(); drainErr != nil {
				n.conn.Close()
			}
		}
	})
	return err
}
