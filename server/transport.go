package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
)

// Transport accepts RPC connections and hands their envelopes to the
// coordinator through the three callbacks.
type Transport interface {
	Start() error
	OnMessage(func(proto.Message))
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() services.TransportMeta
	SetName(name string)
	SetDescription(description string)
}

// ConnMetadata identifies one RPC connection.
type ConnMetadata struct {
	Id          string
	Protocol    string // "tcp" or "websocket"
	RemoteAddr  string
	ConnectedAt time.Time
	Transport   Transport
}

// Client is one connected peer. Send must be safe for concurrent use: replies
// and subscription items for the same peer are written from different
// goroutines.
type Client interface {
	Send(proto.Message) error
	Meta() *ConnMetadata
}

// newConnMetadata stamps a connection with an id of the form
// "<protocol>-<uuid>".
func newConnMetadata(protocol, remoteAddr string, t Transport) ConnMetadata {
	return ConnMetadata{
		Id:          protocol + "-" + uuid.NewString(),
		Protocol:    protocol,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		Transport:   t,
	}
}
