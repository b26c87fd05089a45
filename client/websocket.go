package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/vshadow/proto"
)

// WebSocketTransport sends one JSON envelope per text frame.
type WebSocketTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// websocketURL turns a ws:// or wss:// URL, a tcp:// URL, or a bare
// host:port into a dialable URL.
func websocketURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "tcp":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket address %q: missing host", addr)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, addr string) error {
	target, err := websocketURL(addr)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	conn.SetReadLimit(maxMessageSize)

	t.conn = conn
	return nil
}

func (t *WebSocketTransport) Send(msg proto.Message) error {
	if t.conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	t.wmu.Lock()
	err = t.conn.WriteMessage(websocket.TextMessage, data)
	t.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}

	slog.Debug("Sent WebSocket message", "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return nil
}

func (t *WebSocketTransport) Read() (proto.Message, error) {
	if t.conn == nil {
		return proto.Message{}, errNotConnected
	}

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			return proto.Message{}, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return proto.Message{}, errConnectionClosed
	}

	var msg proto.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return proto.Message{}, fmt.Errorf("invalid JSON from server: %w", err)
	}
	return msg, nil
}

// Close sends a close frame and drops the connection.
func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}

	t.wmu.Lock()
	err := t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.wmu.Unlock()
	if err != nil {
		slog.Debug("Failed to send close frame", "error", err.Error())
	}
	return t.conn.Close()
}
