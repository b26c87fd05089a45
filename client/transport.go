package client

import (
	"context"
	"errors"
	"time"

	"github.com/mbocsi/vshadow/proto"
)

const (
	dialTimeout = 5 * time.Second

	// maxMessageSize bounds one envelope on either transport.
	maxMessageSize = 1 << 20
)

var (
	errNotConnected = errors.New("transport is not connected")

	// errConnectionClosed is returned by Read once the server hangs up.
	errConnectionClosed = errors.New("connection closed")
)

// Transport carries envelopes to and from a server. Send may be called from
// several goroutines; Read is only called by the client's read loop.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Send(msg proto.Message) error
	Read() (proto.Message, error)
	Close() error
}
