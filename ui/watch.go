package ui

import (
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/readaloud/tts"
)

// settleDelay collapses the burst of events an editor produces on save.
const settleDelay = 150 * time.Millisecond

// watcher reloads the article file when it changes. The directory is
// watched so that editors replacing the file are noticed.
type watcher struct {
	fs   *fsnotify.Watcher
	path string
	load func(path string) (tts.Article, error)
}

func newWatcher(path string) (*watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve %s: %w", path, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("unable to watch %s: %w", filepath.Dir(abs), err)
	}
	return &watcher{fs: fs, path: abs, load: tts.LoadArticleFile}, nil
}

// next waits for the article to change and returns an articleMsg, or a
// watchErrMsg. It returns nil once the watcher is closed.
func (w *watcher) next() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.fs.Events:
				if !ok {
					return nil
				}
				if !w.relevant(ev) {
					continue
				}
				if !w.settle() {
					return nil
				}
				a, err := w.load(w.path)
				if err != nil {
					return watchErrMsg{err: err}
				}
				return articleMsg{article: a}

			case err, ok := <-w.fs.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

func (w *watcher) relevant(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == w.path && ev.Has(fsnotify.Write|fsnotify.Create)
}

// settle drains events until none arrive for settleDelay. It returns false
// when the watcher was closed meanwhile.
func (w *watcher) settle() bool {
	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-w.fs.Events:
			if !ok {
				return false
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settleDelay)
		case <-timer.C:
			return true
		}
	}
}

func (w *watcher) Close() error {
	return w.fs.Close()
}
