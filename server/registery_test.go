package server

import (
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/vshadow/proto"
)

// mockClient implements Client and records what it is sent.
type mockClient struct {
	meta ConnMetadata

	mu      sync.Mutex
	sent    []proto.Message
	sendErr error
	notify  chan struct{}
}

func newMockClient(id string) *mockClient {
	return &mockClient{
		meta:   ConnMetadata{Id: id, Protocol: "tcp", RemoteAddr: "127.0.0.1:0", ConnectedAt: time.Now()},
		notify: make(chan struct{}, 256),
	}
}

func (mc *mockClient) Send(msg proto.Message) error {
	if mc.sendErr != nil {
		return mc.sendErr
	}
	mc.mu.Lock()
	mc.sent = append(mc.sent, msg)
	mc.mu.Unlock()
	select {
	case mc.notify <- struct{}{}:
	default:
	}
	return nil
}

func (mc *mockClient) Meta() *ConnMetadata {
	return &mc.meta
}

func (mc *mockClient) messages() []proto.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]proto.Message(nil), mc.sent...)
}

// waitFor blocks until a message of msgType has been sent and returns it.
func (mc *mockClient) waitFor(t *testing.T, msgType string) proto.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, msg := range mc.messages() {
			if msg.Type == msgType {
				return msg
			}
		}
		select {
		case <-mc.notify:
		case <-deadline:
			t.Fatalf("Expected a %s message, got %v", msgType, mc.messages())
		}
	}
}

func TestNewConnectionRegistry(t *testing.T) {
	registry := NewConnectionRegistry()

	if registry == nil {
		t.Fatal("Expected registry to be created")
	}

	if registry.conns == nil {
		t.Error("Expected connection map to be initialized")
	}
}

func TestConnectionRegistry_StoreGetDelete(t *testing.T) {
	registry := NewConnectionRegistry()
	client := newMockClient("tcp-1")

	registry.Store(client)

	stored, exists := registry.Get("tcp-1")
	if !exists {
		t.Fatal("Expected client to be stored")
	}
	if stored.Meta().Id != "tcp-1" {
		t.Errorf("Expected stored client ID 'tcp-1', got %s", stored.Meta().Id)
	}

	if !registry.Delete("tcp-1") {
		t.Error("Expected delete to report the stored client")
	}
	if _, exists := registry.Get("tcp-1"); exists {
		t.Error("Expected client to be deleted")
	}

	if registry.Delete("tcp-1") {
		t.Error("Expected second delete to report a missing client")
	}
	if registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Len())
	}
}

func TestConnectionRegistry_Snapshot(t *testing.T) {
	registry := NewConnectionRegistry()
	older := newMockClient("b")
	older.meta.ConnectedAt = time.Now().Add(-time.Minute)
	older.meta.Protocol = "websocket"
	registry.Store(newMockClient("a"))
	registry.Store(older)
	registry.Store(newMockClient("a"))

	infos := registry.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(infos))
	}
	if infos[0].ID != "b" || infos[0].Protocol != "websocket" {
		t.Errorf("Expected oldest connection 'b' first, got %+v", infos[0])
	}
	if infos[1].Requests != 0 {
		t.Errorf("Expected no requests yet, got %d", infos[1].Requests)
	}
}

func TestConnectionRegistry_Touch(t *testing.T) {
	registry := NewConnectionRegistry()
	registry.Store(newMockClient("a"))

	for i := 0; i < 3; i++ {
		if _, ok := registry.Touch("a"); !ok {
			t.Fatal("Expected touch to find client")
		}
	}
	if _, ok := registry.Touch("missing"); ok {
		t.Error("Expected touch of unknown id to fail")
	}

	info := registry.Snapshot()[0]
	if info.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", info.Requests)
	}
	if !info.LastSeen.After(info.ConnectedAt) && !info.LastSeen.Equal(info.ConnectedAt) {
		t.Errorf("Expected last seen %v to follow connect time %v", info.LastSeen, info.ConnectedAt)
	}
}

func TestConnectionRegistry_Concurrent(t *testing.T) {
	registry := NewConnectionRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := newConnMetadata("tcp", "127.0.0.1:0", nil).Id
			registry.Store(newMockClient(id))
			registry.Touch(id)
			registry.Snapshot()
			registry.Delete(id)
		}(i)
	}
	wg.Wait()

	if registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Len())
	}
}
