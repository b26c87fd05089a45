package server

import (
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/vshadow/services"
)

type connection struct {
	client   Client
	requests uint64
	lastSeen time.Time
}

// ConnectionRegistry tracks the clients connected across all transports and
// the traffic each has sent.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*connection)}
}

// Store adds client. A client stored again under the same id replaces the
// earlier one and its counters.
func (r *ConnectionRegistry) Store(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[client.Meta().Id] = &connection{client: client, lastSeen: client.Meta().ConnectedAt}
}

func (r *ConnectionRegistry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return conn.client, true
}

// Touch records one request from id and returns its client.
func (r *ConnectionRegistry) Touch(id string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	conn.requests++
	conn.lastSeen = time.Now()
	return conn.client, true
}

// Delete removes id and reports whether it was present.
func (r *ConnectionRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	return ok
}

// Snapshot describes every connection, oldest first. Streams is left at zero.
func (r *ConnectionRegistry) Snapshot() []services.ConnectionInfo {
	r.mu.RLock()
	infos := make([]services.ConnectionInfo, 0, len(r.conns))
	for id, conn := range r.conns {
		meta := conn.client.Meta()
		infos = append(infos, services.ConnectionInfo{
			ID:          id,
			Protocol:    meta.Protocol,
			RemoteAddr:  meta.RemoteAddr,
			ConnectedAt: meta.ConnectedAt,
			LastSeen:    conn.lastSeen,
			Requests:    conn.requests,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
