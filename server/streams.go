package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mbocsi/vshadow/proto"
)

// clientStream adapts a connection to services.SubscribeStream. Items are
// sent as TypeSignal messages carrying the subscribe request's id.
type clientStream struct {
	ctx    context.Context
	client Client
	id     string
}

func (s *clientStream) Context() context.Context { return s.ctx }

func (s *clientStream) Send(resp *proto.SubscribeResponse) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Send(proto.Message{
		Type:      proto.TypeSignal,
		ID:        s.id,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

type streamEntry struct {
	paths  map[string]struct{}
	cancel context.CancelFunc
}

// streamTable records the live subscription streams of every connection so
// they can be cancelled by an unsubscribe on the same connection or by a
// disconnect.
type streamTable struct {
	mu     sync.Mutex
	byConn map[string]map[*streamEntry]struct{}
}

func newStreamTable() *streamTable {
	return &streamTable{byConn: make(map[string]map[*streamEntry]struct{})}
}

func (t *streamTable) add(connID string, paths []string, cancel context.CancelFunc) *streamEntry {
	entry := &streamEntry{paths: make(map[string]struct{}, len(paths)), cancel: cancel}
	for _, p := range paths {
		entry.paths[p] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byConn[connID] == nil {
		t.byConn[connID] = make(map[*streamEntry]struct{})
	}
	t.byConn[connID][entry] = struct{}{}
	return entry
}

func (t *streamTable) remove(connID string, entry *streamEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams := t.byConn[connID]
	delete(streams, entry)
	if len(streams) == 0 {
		delete(t.byConn, connID)
	}
}

// cancelPaths cancels the streams of connID that watch any of paths and
// returns how many were cancelled.
func (t *streamTable) cancelPaths(connID string, paths []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancelled := 0
	for entry := range t.byConn[connID] {
		for _, p := range paths {
			if _, ok := entry.paths[p]; ok {
				entry.cancel()
				cancelled++
				break
			}
		}
	}
	return cancelled
}

// cancelConn cancels every stream of connID.
func (t *streamTable) cancelConn(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	streams := t.byConn[connID]
	for entry := range streams {
		entry.cancel()
	}
	return len(streams)
}

func (t *streamTable) countConn(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byConn[connID])
}

func (t *streamTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, streams := range t.byConn {
		n += len(streams)
	}
	return n
}
