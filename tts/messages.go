package tts

import (
	"sync"

	"github.com/dgnsrekt/readaloud/internal/cache"
)

// Messages consumed by the controller loop. Commands come from the public
// methods and carry a reply channel; events report the completion of work
// started by the loop and carry the session and sequence they belong to.

type commandKind int

const (
	cmdStart commandKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdPrevious
	cmdNext
	cmdSeek
	cmdClose
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdStop:
		return "stop"
	case cmdPrevious:
		return "previous"
	case cmdNext:
		return "next"
	case cmdSeek:
		return "seek"
	case cmdClose:
		return "close"
	default:
		return "unknown"
	}
}

type command struct {
	kind    commandKind
	article Article
	index   int
	reply   chan error
}

// synthesisDoneMsg reports the outcome of synthesizing a chunk for playback.
type synthesisDoneMsg struct {
	session string
	seq     uint64
	index   int
	clip    *cache.Clip
	err     error
}

// playbackEndedMsg reports that the device played a clip to completion.
type playbackEndedMsg struct {
	session string
	seq     uint64
}

// notifier delivers observer callbacks in order on its own goroutine, so a
// callback may call back into the controller.
type notifier struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) post(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.quit:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		queue := n.queue
		n.queue = nil
		n.mu.Unlock()

		if len(queue) == 0 {
			return
		}
		for _, fn := range queue {
			fn()
		}
	}
}

func (n *notifier) close() {
	n.once.Do(func() { close(n.quit) })
}
