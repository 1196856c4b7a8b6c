package ui

import (
	"github.com/dgnsrekt/readaloud/tts"
	ttssync "github.com/dgnsrekt/readaloud/tts/sync"
)

// Messages delivered to the model. Controller callbacks arrive as
// stateMsg, chunkMsg and sessionEndMsg, in the order the controller
// raised them.

// stateMsg reports a controller state change.
type stateMsg struct {
	state tts.StateType
}

// chunkMsg reports that a chunk became current.
type chunkMsg struct {
	index int
	total int
}

// sessionEndMsg reports the end of a reading session. err is nil when the
// article finished or was stopped.
type sessionEndMsg struct {
	err error
}

// progressMsg carries a progress estimate.
type progressMsg ttssync.Update

// commandDoneMsg reports the result of a controller command.
type commandDoneMsg struct {
	op  string
	err error
}

// articleMsg carries a reloaded article.
type articleMsg struct {
	article tts.Article
}

// watchErrMsg reports a failure to watch or reload the article.
type watchErrMsg struct {
	err error
}

// copiedMsg reports the result of copying a sentence.
type copiedMsg struct {
	err error
}
