package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WSTransport serves JSON envelopes as WebSocket text frames on any path.
type WSTransport struct {
	transportBase
	server *http.Server
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{transportBase: newTransportBase("websocket", addr)}
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket server", "addr", t.Addr)

	if err := t.checkCallbacks(); err != nil {
		return err
	}
	l, err := t.bind()
	if err != nil {
		if errors.Is(err, errTransportClosed) {
			return nil
		}
		return err
	}
	defer t.unbind(l)

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWebSocket)
	srv := &http.Server{Handler: mux}

	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	err = srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !t.reserve() {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.release()
		slog.Error("Failed to upgrade connection", "error", err.Error())
		return
	}
	conn.SetReadLimit(maxLineSize)

	read := func() ([]byte, error) {
		_, data, err := conn.ReadMessage()
		if err != nil && !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return nil, io.EOF
		}
		return data, err
	}
	t.serve(NewWSClient(conn, t, r.RemoteAddr), read, conn.Close)
}

// Shutdown stops accepting connections and closes the open ones. Hijacked
// WebSocket connections are not tracked by http.Server, so they are closed
// here.
func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)

	l, clients := t.shutdown()
	for _, c := range clients {
		if wc, ok := c.(*WSClient); ok {
			wc.close()
		}
	}

	t.mu.RLock()
	srv := t.server
	t.mu.RUnlock()
	if srv != nil {
		return srv.Close()
	}
	if l != nil {
		l.Close()
	}
	return nil
}
