package proto

import (
	"encoding/json"
)

// Message is the envelope exchanged over the TCP and WebSocket transports.
type Message struct {
	Type      string          `json:"type"`              // "get", "set", "lock", ... or "<type>_response", "signal"
	ID        string          `json:"id,omitempty"`      // caller-chosen correlation id, echoed on replies
	Sender    string          `json:"sender,omitempty"`  // connection id, injected by the transport
	Payload   json.RawMessage `json:"payload,omitempty"` // request or response body for Type
	Timestamp int64           `json:"timestamp"`         // UNIX timestamp in seconds
}

const (
	TypeGet         = "get"
	TypeSet         = "set"
	TypeLock        = "lock"
	TypeUnlock      = "unlock"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeSignal       = "signal"
	TypeSubscribeEnd = "subscribe_end"
	TypeError        = "error"

	ResponseSuffix = "_response"
)

func ResponseType(requestType string) string {
	return requestType + ResponseSuffix
}

type GetRequest struct {
	Paths []string `json:"paths"`
}

type GetResponse struct {
	Signals      []Signal `json:"signals"`
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

type SetSignalRequest struct {
	Path  string     `json:"path"`
	State StatePatch `json:"state"`
}

type SetRequest struct {
	Signals []SetSignalRequest `json:"signals"`
	Token   string             `json:"token,omitempty"`
}

type SetResult struct {
	Path         string `json:"path"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type SetResponse struct {
	Results      []SetResult `json:"results"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

type LockRequest struct {
	Paths []string `json:"paths"`
}

type LockResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type UnlockRequest struct {
	Token string `json:"token"`
}

type UnlockResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type SubscribeRequest struct {
	Paths []string `json:"paths"`
}

// SubscribeResponse is one item of a subscription stream: either a signal
// update or an error notice.
type SubscribeResponse struct {
	Signal       *Signal `json:"signal,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

type UnsubscribeRequest struct {
	Paths []string `json:"paths"`
}

type UnsubscribeResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ErrorPayload is sent with TypeError when a request cannot be decoded.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SubscribeEnd is sent with TypeSubscribeEnd when a subscription stream
// stops. ErrorMessage is empty when the stream was cancelled normally.
type SubscribeEnd struct {
	ErrorMessage string `json:"error_message,omitempty"`
}

// mDNS service types under which the transports are advertised.
const (
	ServiceTypeTCP       = "_vshadow-tcp._tcp"
	ServiceTypeWebSocket = "_vshadow-ws._tcp"
)
