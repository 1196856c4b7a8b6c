package engines

import (
	"sync"

	"github.com/google/uuid"
)

// call is one outstanding request. Frames are appended in arrival order
// until a terminal message resolves it.
type call struct {
	id        string
	method    string
	transport Transport

	mu     sync.Mutex
	frames [][]float32
	result Message
	err    error
	done   chan struct{}
	once   sync.Once
}

func (c *call) deliver(msg Message) {
	c.mu.Lock()
	if len(msg.Samples) > 0 {
		c.frames = append(c.frames, msg.Samples)
	}
	c.mu.Unlock()

	if msg.terminal() {
		c.resolve(msg, nil)
	}
}

func (c *call) resolve(msg Message, err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = msg
		if err == nil && msg.Error != "" {
			err = &EngineError{Method: c.method, Message: msg.Error}
		}
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// outcome returns the terminal message and error once done is closed.
func (c *call) outcome() (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// samples concatenates the received frames.
func (c *call) samples() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, f := range c.frames {
		n += len(f)
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, 0, n)
	for _, f := range c.frames {
		out = append(out, f...)
	}
	return out
}

// pendingTable maps request ids to outstanding calls.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*call)}
}

// add registers a call with a fresh id.
func (t *pendingTable) add(method string, transport Transport) *call {
	c := &call{
		id:        uuid.NewString(),
		method:    method,
		transport: transport,
		done:      make(chan struct{}),
	}
	t.mu.Lock()
	t.calls[c.id] = c
	t.mu.Unlock()
	return c
}

func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// dispatch routes msg to its call. It returns false when no call is waiting
// for msg's id. A terminal message removes the entry.
func (t *pendingTable) dispatch(msg Message) bool {
	t.mu.Lock()
	c, ok := t.calls[msg.ID]
	if ok && msg.terminal() {
		delete(t.calls, msg.ID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	c.deliver(msg)
	return true
}

// failAll resolves every call sent over transport with err; a nil transport
// matches every call.
func (t *pendingTable) failAll(transport Transport, err error) {
	t.mu.Lock()
	var failed []*call
	for id, c := range t.calls {
		if transport == nil || c.transport == transport {
			failed = append(failed, c)
			delete(t.calls, id)
		}
	}
	t.mu.Unlock()

	for _, c := range failed {
		c.resolve(Message{}, err)
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
