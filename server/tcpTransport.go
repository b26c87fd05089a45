package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
)

// maxLineSize bounds one newline-delimited envelope.
const maxLineSize = 1 << 20

// TCPTransport serves newline-delimited JSON envelopes over TCP.
type TCPTransport struct {
	transportBase
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{transportBase: newTransportBase("tcp", addr)}
}

func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp server", "addr", t.Addr)

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

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if !t.reserve() {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	read := func() ([]byte, error) {
		if scanner.Scan() {
			return scanner.Bytes(), nil
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	t.serve(NewTCPClient(conn, t), read, conn.Close)
}

// Shutdown stops accepting connections and closes the open ones.
func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)

	l, clients := t.shutdown()
	for _, c := range clients {
		if tc, ok := c.(*TCPClient); ok {
			tc.conn.Close()
		}
	}
	if l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}
