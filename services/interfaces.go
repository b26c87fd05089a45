package services

import (
	"context"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/store"
)

// SubscribeStream is the server side of one Subscribe call. Context is
// cancelled when the peer goes away.
type SubscribeStream interface {
	Context() context.Context
	Send(*proto.SubscribeResponse) error
}

// SignalAPI is the RPC surface of the shadow store. Every method returns a
// well-formed response; failures are reported inside it.
type SignalAPI interface {
	Get(req proto.GetRequest) proto.GetResponse
	Set(req proto.SetRequest) proto.SetResponse
	Lock(req proto.LockRequest) proto.LockResponse
	Unlock(req proto.UnlockRequest) proto.UnlockResponse
	Subscribe(req proto.SubscribeRequest, stream SubscribeStream) error
	Unsubscribe(req proto.UnsubscribeRequest) proto.UnsubscribeResponse

	// Operator surface
	List() []proto.Signal
	Locks() []store.LockInfo
	ForceUnlock(path string) (string, error)
}

// TransportSource is implemented by the server transports.
type TransportSource interface {
	Meta() TransportMeta
}

// TransportService handles transport information
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	GetTransport(index int) (*TransportInfo, error)
	GetTransportStats() (map[string]interface{}, error)
}

// ConnectionSource lists the live RPC connections.
type ConnectionSource interface {
	Connections() []ConnectionInfo
}

// ServiceContainer holds all service implementations. Transport and
// Connections may be nil when no RPC transport runs.
type ServiceContainer struct {
	Signals     SignalAPI
	Transport   TransportService
	Connections ConnectionSource
}
