package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/vshadow/proto"
)

// WSClient writes JSON envelopes as text frames. gorilla/websocket allows one
// concurrent writer, so writes are serialized.
type WSClient struct {
	ConnMetadata
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewWSClient(conn *websocket.Conn, t Transport, remoteAddr string) *WSClient {
	return &WSClient{
		conn:         conn,
		ConnMetadata: newConnMetadata("websocket", remoteAddr, t),
	}
}

func (c *WSClient) Send(msg proto.Message) error {
	if c.conn == nil {
		return errors.New("websocket connection is not established")
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, jsonData)
	c.wmu.Unlock()
	if err != nil {
		return err
	}

	slog.Debug("Sent WebSocket message", "to", c.Id, "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return nil
}

func (c *WSClient) Meta() *ConnMetadata {
	return &c.ConnMetadata
}

// close says goodbye with a close frame before dropping the connection.
func (c *WSClient) close() {
	c.wmu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	c.conn.Close()
}
