package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/vshadow/proto"
)

const defaultDiscoveryTimeout = 5 * time.Second

// DiscoveredService is a vshadow transport found over mDNS.
type DiscoveredService struct {
	Instance string
	Address  string
	Port     int
	Protocol string // "tcp" or "websocket"
}

// Addr is the host:port to dial.
func (s *DiscoveredService) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Dial connects a client to the discovered transport.
func (s *DiscoveredService) Dial(ctx context.Context, opts ...Option) (*Client, error) {
	if s.Protocol == "websocket" {
		return DialWebSocket(ctx, s.Addr(), opts...)
	}
	return DialTCP(ctx, s.Addr(), opts...)
}

// serviceFromEntry converts an mDNS answer. The protocol comes from the
// "protocol=" TXT field the server publishes, falling back to the service
// type.
func serviceFromEntry(serviceType string, entry *mdns.ServiceEntry) (*DiscoveredService, bool) {
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = entry.AddrV6.String()
	default:
		return nil, false
	}

	protocol := "tcp"
	if serviceType == proto.ServiceTypeWebSocket {
		protocol = "websocket"
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "protocol="); ok && v != "" {
			protocol = v
		}
	}

	instance := strings.TrimSuffix(entry.Name, "."+serviceType+".local.")
	return &DiscoveredService{
		Instance: instance,
		Address:  address,
		Port:     entry.Port,
		Protocol: protocol,
	}, true
}

// discoverService returns the first answer for serviceType. It gives up when
// ctx ends or timeout passes.
func discoverService(ctx context.Context, serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entries)
		params := mdns.DefaultParams(serviceType)
		params.Entries = entries
		params.Timeout = timeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err.Error())
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("no %s service found", serviceType)
			}
			service, ok := serviceFromEntry(serviceType, entry)
			if !ok {
				continue
			}
			slog.Info("Discovered vshadow server",
				"instance", service.Instance,
				"addr", service.Addr(),
				"protocol", service.Protocol,
			)
			go drain(entries)
			return service, nil

		case <-ctx.Done():
			go drain(entries)
			return nil, fmt.Errorf("mDNS discovery of %s: %w", serviceType, ctx.Err())
		}
	}
}

// drain consumes late answers so the query goroutine can finish.
func drain(entries <-chan *mdns.ServiceEntry) {
	for range entries {
	}
}

// DiscoverTCPService finds the first advertised TCP transport.
func DiscoverTCPService(ctx context.Context, timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(ctx, proto.ServiceTypeTCP, timeout)
}

// DiscoverWebSocketService finds the first advertised WebSocket transport.
func DiscoverWebSocketService(ctx context.Context, timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(ctx, proto.ServiceTypeWebSocket, timeout)
}
