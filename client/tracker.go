package client

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mbocsi/vshadow/proto"
)

// requestTracker correlates replies with pending requests by envelope id.
type requestTracker struct {
	mu      sync.Mutex
	pending map[string]chan proto.Message
}

func newRequestTracker() *requestTracker {
	return &requestTracker{pending: make(map[string]chan proto.Message)}
}

// register allocates a fresh id and the channel its reply will arrive on.
func (rt *requestTracker) register() (string, <-chan proto.Message) {
	id := uuid.NewString()
	ch := make(chan proto.Message, 1)

	rt.mu.Lock()
	rt.pending[id] = ch
	rt.mu.Unlock()
	return id, ch
}

func (rt *requestTracker) forget(id string) {
	rt.mu.Lock()
	delete(rt.pending, id)
	rt.mu.Unlock()
}

// resolve hands msg to the request waiting on msg.ID. It reports false when
// nobody is waiting.
func (rt *requestTracker) resolve(msg proto.Message) bool {
	rt.mu.Lock()
	ch, ok := rt.pending[msg.ID]
	if ok {
		delete(rt.pending, msg.ID)
	}
	rt.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

func (rt *requestTracker) size() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.pending)
}
