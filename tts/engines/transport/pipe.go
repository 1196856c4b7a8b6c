// Package transport provides message channels to a synthesis engine: an
// in-process pipe, JSON lines over a subprocess's stdio, WebSocket and NATS.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/dgnsrekt/readaloud/tts/engines"
)

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport closed")

const pipeBuffer = 64

// pipeEnd is one side of an in-process pipe.
type pipeEnd struct {
	in   chan engines.Message
	out  chan engines.Message
	peer *pipeEnd
	link *pipeLink
}

// pipeLink is shared by both ends; closing either end closes both.
type pipeLink struct {
	done chan struct{}
	once sync.Once
}

// Pipe returns two connected in-process transports. Messages sent on one
// arrive on the other in order.
func Pipe() (engines.Transport, engines.Transport) {
	link := &pipeLink{done: make(chan struct{})}
	a := &pipeEnd{in: make(chan engines.Message, pipeBuffer), out: make(chan engines.Message), link: link}
	b := &pipeEnd{in: make(chan engines.Message, pipeBuffer), out: make(chan engines.Message), link: link}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func (p *pipeEnd) pump() {
	defer close(p.out)
	for {
		select {
		case msg := <-p.in:
			select {
			case p.out <- msg:
			case <-p.link.done:
				return
			}
		case <-p.link.done:
			return
		}
	}
}

// Send delivers msg to the other end.
func (p *pipeEnd) Send(ctx context.Context, msg engines.Message) error {
	select {
	case <-p.link.done:
		return ErrClosed
	default:
	}

	select {
	case p.peer.in <- msg:
		return nil
	case <-p.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the messages sent by the other end.
func (p *pipeEnd) Messages() <-chan engines.Message {
	return p.out
}

// Close disconnects both ends.
func (p *pipeEnd) Close() error {
	p.link.once.Do(func() { close(p.link.done) })
	return nil
}

// PipeDialer returns a dialer that serves backend in-process on every dial.
// The engine goroutine exits when the client closes its end.
func PipeDialer(backend engines.Backend, opts ...engines.ServeOption) engines.Dialer {
	return func(ctx context.Context) (engines.Transport, error) {
		client, server := Pipe()
		go func() {
			_ = engines.Serve(context.Background(), server, backend, opts...)
		}()
		return client, nil
	}
}
