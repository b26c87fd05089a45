package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mbocsi/vshadow/proto"
)

// TCPTransport speaks newline-delimited JSON envelopes.
type TCPTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Connect dials addr. ctx bounds the dial only.
func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	t.conn = conn
	t.scanner = bufio.NewScanner(conn)
	t.scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return nil
}

func (t *TCPTransport) Send(msg proto.Message) error {
	if t.conn == nil {
		return errNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	data = append(data, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err = t.conn.Write(data)
	return err
}

// Read returns the next envelope, skipping blank lines.
func (t *TCPTransport) Read() (proto.Message, error) {
	if t.scanner == nil {
		return proto.Message{}, errNotConnected
	}
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg proto.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return proto.Message{}, fmt.Errorf("invalid JSON from server: %w", err)
		}
		return msg, nil
	}

	err := t.scanner.Err()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return proto.Message{}, errConnectionClosed
	}
	return proto.Message{}, err
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
