package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/vshadow/proto"
)

// ServiceType maps a transport protocol to its mDNS service type.
func ServiceType(protocol string) (string, bool) {
	switch protocol {
	case "tcp":
		return proto.ServiceTypeTCP, true
	case "websocket":
		return proto.ServiceTypeWebSocket, true
	}
	return "", false
}

// Advertiser announces transports over mDNS so clients can find the server
// without configuration.
type Advertiser struct {
	instance string
	servers  []*mdns.Server
}

func NewAdvertiser(instance string) *Advertiser {
	return &Advertiser{instance: instance}
}

// Advertise announces one transport. addr is the bound listen address.
func (a *Advertiser) Advertise(protocol, addr string) error {
	serviceType, ok := ServiceType(protocol)
	if !ok {
		return fmt.Errorf("no mDNS service type for protocol %q", protocol)
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	info := []string{"protocol=" + protocol}
	service, err := mdns.NewMDNSService(a.instance, serviceType, "", "", port, nil, info)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}
	a.servers = append(a.servers, srv)

	slog.Info("Advertising transport over mDNS", "service", serviceType, "instance", a.instance, "port", port)
	return nil
}

func (a *Advertiser) Shutdown() {
	for _, srv := range a.servers {
		if err := srv.Shutdown(); err != nil {
			slog.Warn("Failed to stop mDNS server", "error", err.Error())
		}
	}
	a.servers = nil
}
