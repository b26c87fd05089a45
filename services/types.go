package services

import (
	"errors"
	"time"
)

// TransportMeta describes a running transport for listings.
type TransportMeta struct {
	Name        string // Human-friendly name, e.g., "TCP Server", "WebSocket Gateway"
	Protocol    string // "tcp" or "websocket"
	Address     string // Bind address, e.g., "0.0.0.0:50051"
	Description string // Optional, short purpose/use case
	Connections int    // Current active connections
	MaxClients  int    // Max allowed connections (0 if unbounded)
	Connected   bool   // Whether the transport is currently bound
}

// TransportInfo represents transport connection information
type TransportInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	MaxClients  int    `json:"max_clients"`
}

// ConnectionInfo describes one connected RPC peer.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Protocol    string    `json:"protocol"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Requests    uint64    `json:"requests"`
	Streams     int       `json:"streams"` // live subscription streams
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeLocked       = "LOCKED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorCode returns the code of a ServiceError anywhere in err's chain, or
// ErrCodeInternal for any other error.
func ErrorCode(err error) string {
	var svcErr ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ErrCodeInternal
}
