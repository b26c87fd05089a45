package services

import "sync"

// TransportServiceImpl implements TransportService
type TransportServiceImpl struct {
	mu         sync.RWMutex
	transports []TransportSource
}

// NewTransportService creates a new transport service
func NewTransportService(transports ...TransportSource) *TransportServiceImpl {
	return &TransportServiceImpl{
		transports: transports,
	}
}

// Add registers a transport started after the service was created.
func (ts *TransportServiceImpl) Add(t TransportSource) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.transports = append(ts.transports, t)
}

// ListTransports returns all transport information
func (ts *TransportServiceImpl) ListTransports() ([]TransportInfo, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	result := make([]TransportInfo, 0, len(ts.transports))
	for i, transport := range ts.transports {
		result = append(result, convertTransportMeta(i, transport.Meta()))
	}
	return result, nil
}

// GetTransport returns a specific transport by index
func (ts *TransportServiceImpl) GetTransport(index int) (*TransportInfo, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if index < 0 || index >= len(ts.transports) {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Transport index out of range",
		}
	}

	info := convertTransportMeta(index, ts.transports[index].Meta())
	return &info, nil
}

// GetTransportStats returns aggregate transport statistics
func (ts *TransportServiceImpl) GetTransportStats() (map[string]interface{}, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	connectedTransports := 0
	totalConnections := 0
	for _, transport := range ts.transports {
		meta := transport.Meta()
		if meta.Connected {
			connectedTransports++
		}
		totalConnections += meta.Connections
	}

	return map[string]interface{}{
		"total_transports":     len(ts.transports),
		"connected_transports": connectedTransports,
		"total_connections":    totalConnections,
	}, nil
}

func convertTransportMeta(index int, meta TransportMeta) TransportInfo {
	status := "disconnected"
	if meta.Connected {
		status = "connected"
	}

	return TransportInfo{
		Index:       index,
		Name:        meta.Name,
		Type:        meta.Protocol,
		Address:     meta.Address,
		Description: meta.Description,
		Status:      status,
		Connections: meta.Connections,
		MaxClients:  meta.MaxClients,
	}
}
