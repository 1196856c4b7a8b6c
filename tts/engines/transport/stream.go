package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/tts/engines"
)

// maxLine bounds one JSON line; a full frame of samples is well below it.
const maxLine = 4 << 20

// Stream exchanges newline-delimited JSON messages over a reader and a
// writer, such as a subprocess's stdout and stdin.
type Stream struct {
	r      io.ReadCloser
	w      io.WriteCloser
	logger *log.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	out  chan engines.Message
	done chan struct{}
	once sync.Once
}

// NewStream starts reading messages from r. Close closes both r and w.
func NewStream(r io.ReadCloser, w io.WriteCloser, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.WithPrefix("stream")
	}
	s := &Stream{
		r:      r,
		w:      w,
		logger: logger,
		enc:    json.NewEncoder(w),
		out:    make(chan engines.Message),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.out)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg engines.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("dropping malformed line", "err", err)
			continue
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		select {
		case <-s.done:
		default:
			s.logger.Debug("stream read ended", "err", err)
		}
	}
}

// Send writes msg as one JSON line.
func (s *Stream) Send(ctx context.Context, msg engines.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(msg)
}

// Messages returns the decoded incoming messages.
func (s *Stream) Messages() <-chan engines.Message {
	return s.out
}

// Close closes both directions.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = errors.Join(s.w.Close(), s.r.Close())
	})
	return err
}
