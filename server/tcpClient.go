package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/vshadow/proto"
)

// writeTimeout bounds one write to a peer. A peer that stops reading fails
// its sends instead of stalling the stream goroutines writing to it.
const writeTimeout = 10 * time.Second

// TCPClient writes newline-delimited JSON envelopes to one TCP peer.
type TCPClient struct {
	ConnMetadata
	conn net.Conn
	wmu  sync.Mutex
}

func NewTCPClient(conn net.Conn, t Transport) *TCPClient {
	return &TCPClient{
		conn:         conn,
		ConnMetadata: newConnMetadata("tcp", conn.RemoteAddr().String(), t),
	}
}

func (c *TCPClient) Send(msg proto.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	jsonData = append(jsonData, '\n')

	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(jsonData)
	c.wmu.Unlock()
	if err != nil {
		return err
	}

	slog.Debug("Sent message", "to", c.Id, "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return nil
}

func (c *TCPClient) Meta() *ConnMetadata {
	return &c.ConnMetadata
}
