package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"

	"github.com/dgnsrekt/readaloud/tts/engines"
)

const killGrace = 2 * time.Second

// Stdio runs an engine command and talks to it over its stdin and stdout.
type Stdio struct {
	*Stream
	cmd    *exec.Cmd
	logger *log.Logger

	closeOnce sync.Once
	exited    chan struct{}
}

// ParseCommand splits an engine command line into program and arguments.
func ParseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command empty")
	}
	return args, nil
}

// StartStdio starts command. The process outlives ctx; it is stopped by
// Close.
func StartStdio(ctx context.Context, command string, logger *log.Logger) (*Stdio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.WithPrefix("stdio")
	}

	args, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = &logWriter{logger: logger}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", args[0], err)
	}
	logger.Debug("engine process started", "cmd", strings.Join(args, " "), "pid", cmd.Process.Pid)

	s := &Stdio{
		Stream: NewStream(stdout, stdin, logger),
		cmd:    cmd,
		logger: logger,
		exited: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		logger.Debug("engine process exited", "err", err)
		close(s.exited)
	}()
	return s, nil
}

// StdioDialer returns a dialer that starts command on every dial.
func StdioDialer(command string, logger *log.Logger) engines.Dialer {
	return func(ctx context.Context) (engines.Transport, error) {
		return StartStdio(ctx, command, logger)
	}
}

// Close closes the engine's stdin and kills it if it has not exited after
// a grace period.
func (s *Stdio) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Stream.Close()
		select {
		case <-s.exited:
		case <-time.After(killGrace):
			s.logger.Warn("engine did not exit, killing it")
			if killErr := s.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = errors.Join(err, killErr)
			}
			<-s.exited
		}
	})
	return err
}

// NewStdioServer returns the engine side of the stdio transport, reading
// requests from r and writing responses to w.
func NewStdioServer(r io.Reader, w io.Writer, logger *log.Logger) *Stream {
	return NewStream(io.NopCloser(r), nopWriteCloser{w}, logger)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// logWriter forwards an engine's stderr lines to the logger.
type logWriter struct {
	logger *log.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("engine", "stderr", line)
		}
	}
	return len(p), nil
}
