package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
)

const defaultMaxClients = 16

var (
	errCallbacksMissing = errors.New("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being started outside of the server coordinator")

	// errTransportClosed is returned by bind after Shutdown.
	errTransportClosed = errors.New("transport is shut down")
)

// transportBase is the state the TCP and WebSocket transports share: the
// coordinator callbacks, the bound listener, and the connected peers.
type transportBase struct {
	Addr     string
	protocol string

	name        string
	description string
	maxClients  int

	onMessage    func(proto.Message)
	onConnect    func(Client) error
	onDisconnect func(Client)

	mu        sync.RWMutex
	listener  net.Listener
	clients   map[string]Client
	reserved  int // accepted connections not yet in clients
	closed    bool
	connected atomic.Bool
	ready     chan struct{}
}

func newTransportBase(protocol, addr string) transportBase {
	return transportBase{
		Addr:       addr,
		protocol:   protocol,
		maxClients: defaultMaxClients,
		clients:    make(map[string]Client),
		ready:      make(chan struct{}),
	}
}

func (b *transportBase) checkCallbacks() error {
	if b.onConnect == nil || b.onDisconnect == nil || b.onMessage == nil {
		return errCallbacksMissing
	}
	return nil
}

// bind listens on Addr and closes Ready. It returns errTransportClosed,
// after releasing the port, when Shutdown already ran.
func (b *transportBase) bind() (net.Listener, error) {
	l, err := net.Listen("tcp", b.Addr)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		l.Close()
		return nil, errTransportClosed
	}
	b.listener = l
	b.connected.Store(true)
	close(b.ready)
	return l, nil
}

func (b *transportBase) unbind(l net.Listener) {
	l.Close()
	b.connected.Store(false)
}

// shutdown marks the transport closed and returns the listener and the
// clients the caller must close.
func (b *transportBase) shutdown() (net.Listener, []Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clients := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	return b.listener, clients
}

// reserve claims a client slot for a connection about to be served. It
// fails when maxClients slots are registered or reserved, or after Shutdown.
// A successful reserve is released by serve, or by release when the
// connection is dropped before serve runs.
func (b *transportBase) reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.clients)+b.reserved >= b.maxClients {
		return false
	}
	b.reserved++
	return true
}

func (b *transportBase) release() {
	b.mu.Lock()
	b.reserved--
	b.mu.Unlock()
}

// register turns the reservation into a registered client. It fails after
// Shutdown, whose client list has already been taken.
func (b *transportBase) register(client Client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved--
	if b.closed {
		return false
	}
	b.clients[client.Meta().Id] = client
	return true
}

// serve registers client with the coordinator and forwards every envelope
// read from it until read fails. Frames that are not valid JSON are answered
// with an error message and skipped. The caller must hold a reserved slot.
func (b *transportBase) serve(client Client, read func() ([]byte, error), closeConn func() error) {
	meta := client.Meta()
	slog.Info("Client connected", "protocol", b.protocol, "addr", meta.RemoteAddr, "id", meta.Id)

	if err := b.onConnect(client); err != nil {
		b.release()
		closeConn()
		slog.Error("Failed to register client", "addr", meta.RemoteAddr, "error", err.Error())
		return
	}

	defer func() {
		b.mu.Lock()
		delete(b.clients, meta.Id)
		b.mu.Unlock()

		b.onDisconnect(client)

		closeConn()
		slog.Info("Client disconnected", "protocol", b.protocol, "addr", meta.RemoteAddr, "id", meta.Id)
	}()

	if !b.register(client) {
		return
	}

	for {
		data, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("Connection error", "protocol", b.protocol, "id", meta.Id, "error", err.Error())
			}
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		var msg proto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid JSON message received", "id", meta.Id, "error", err.Error())
			replyError(client, "", "Invalid JSON message: "+err.Error())
			continue
		}
		msg.Sender = meta.Id
		slog.Debug("Message received", "type", msg.Type, "id", msg.ID, "sender", msg.Sender, "size", len(msg.Payload))
		b.onMessage(msg)
	}
}

// Ready is closed once the listener is bound.
func (b *transportBase) Ready() <-chan struct{} {
	return b.ready
}

// ListenAddr is the bound address, which differs from Addr when Addr uses
// port 0. It is empty before Ready.
func (b *transportBase) ListenAddr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

func (b *transportBase) Meta() services.TransportMeta {
	b.mu.RLock()
	connections := len(b.clients)
	b.mu.RUnlock()
	return services.TransportMeta{
		Name:        b.name,
		Description: b.description,
		Protocol:    b.protocol,
		Address:     b.Addr,
		Connections: connections,
		MaxClients:  b.maxClients,
		Connected:   b.connected.Load(),
	}
}

func (b *transportBase) OnMessage(fn func(proto.Message)) { b.onMessage = fn }
func (b *transportBase) OnConnect(fn func(Client) error)  { b.onConnect = fn }
func (b *transportBase) OnDisconnect(fn func(Client))     { b.onDisconnect = fn }
func (b *transportBase) SetName(name string)              { b.name = name }
func (b *transportBase) SetDescription(description string) {
	b.description = description
}

// SetMaxClients bounds concurrent connections. n <= 0 keeps the default.
func (b *transportBase) SetMaxClients(n int) {
	if n > 0 {
		b.maxClients = n
	}
}
