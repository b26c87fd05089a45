package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/vshadow/config"
	vmcp "github.com/mbocsi/vshadow/mcp"
	"github.com/mbocsi/vshadow/producer"
	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
	"github.com/mbocsi/vshadow/store"
	"github.com/mbocsi/vshadow/telemetry"
	"github.com/mbocsi/vshadow/web"
)

const shutdownTimeout = 5 * time.Second

type ShadowServerOptions struct {
	Config  *config.Config // Optional (defaults to config.Default())
	Signals []proto.Signal // Optional (defaults to the configured catalogue)
	Version string         // Reported by the MCP server

	// Registry receives the store metrics. Optional (defaults to a fresh
	// registry with the Go and process collectors).
	Registry *prometheus.Registry
}

// ShadowServer wires the store, the signal service and every enabled surface
// from a configuration.
type ShadowServer struct {
	cfg         *config.Config
	store       *store.SignalStore
	container   *services.ServiceContainer
	coordinator *Coordinator

	tcp        *TCPTransport
	ws         *WSTransport
	web        *web.WebServer
	mcp        *MCPServer
	advertiser *Advertiser
	simulator  *producer.Simulator
}

func NewShadowServer(opts ShadowServerOptions) (*ShadowServer, error) {
	cfg := opts.Config
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	signals := opts.Signals
	if signals == nil {
		var err error
		if cfg.SignalsFile != "" {
			signals, err = producer.LoadCatalog(cfg.SignalsFile)
		} else {
			signals = producer.DefaultCatalog()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load signal catalogue: %w", err)
		}
	}

	collector := telemetry.NewPrometheusCollector(opts.Registry)
	st := store.NewSignalStore(
		store.WithLockTTL(cfg.Store.LockTTL.Duration()),
		store.WithCollector(collector),
	)
	if err := producer.Register(st, signals); err != nil {
		return nil, err
	}

	service := services.NewSignalService(st,
		services.WithCollector(collector),
		services.WithSubscriberBuffer(cfg.Store.SubscriberBuffer),
	)
	transports := services.NewTransportService()

	coordinator := NewCoordinator(NewConnectionRegistry(), service)
	s := &ShadowServer{
		cfg:   cfg,
		store: st,
		container: &services.ServiceContainer{
			Signals:     service,
			Transport:   transports,
			Connections: coordinator,
		},
		coordinator: coordinator,
	}

	if cfg.TCP.Enabled {
		s.tcp = NewTCPTransport(cfg.TCP.Addr)
		s.tcp.SetName(cfg.TCP.Name)
		s.tcp.SetDescription(cfg.TCP.Description)
		s.tcp.SetMaxClients(cfg.TCP.MaxClients)
		s.coordinator.RegisterTransport(s.tcp)
		transports.Add(s.tcp)
	}
	if cfg.WebSocket.Enabled {
		s.ws = NewWSTransport(cfg.WebSocket.Addr)
		s.ws.SetName(cfg.WebSocket.Name)
		s.ws.SetDescription(cfg.WebSocket.Description)
		s.ws.SetMaxClients(cfg.WebSocket.MaxClients)
		s.coordinator.RegisterTransport(s.ws)
		transports.Add(s.ws)
	}
	if cfg.Web.Enabled {
		metrics := promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		s.web = web.NewWebServer(s.container, metrics)
	}
	if cfg.MCP.Enabled {
		s.mcp = NewMCPServer(opts.Version)
		vmcp.NewTools(s.container).Register(s.mcp.Server)
	}
	if cfg.Discovery.Enabled {
		s.advertiser = NewAdvertiser(cfg.Discovery.Instance)
	}
	if cfg.Simulator.Enabled {
		vehicle := producer.NewVehicle(st)
		s.simulator = producer.NewSimulator(vehicle, cfg.Simulator.Interval.Duration(), cfg.Simulator.Seed)
	}
	return s, nil
}

func (s *ShadowServer) Store() *store.SignalStore            { return s.store }
func (s *ShadowServer) Services() *services.ServiceContainer { return s.container }
func (s *ShadowServer) Coordinator() *Coordinator            { return s.coordinator }
func (s *ShadowServer) TCP() *TCPTransport                   { return s.tcp }
func (s *ShadowServer) WebSocket() *WSTransport              { return s.ws }
func (s *ShadowServer) Web() *web.WebServer                  { return s.web }

// Start runs every enabled surface until ctx is cancelled or one of them
// fails.
func (s *ShadowServer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	slog.Info("Starting shadow server", "signals", len(s.store.List()))

	g.Go(func() error {
		return s.coordinator.Start(ctx)
	})

	if s.web != nil {
		g.Go(func() error {
			if err := s.web.Start(s.cfg.Web.Addr); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.web.Shutdown(shutdownCtx)
		})
	}

	if s.mcp != nil {
		g.Go(func() error {
			return s.mcp.Start(ctx)
		})
	}

	if s.simulator != nil {
		g.Go(func() error {
			if err := s.simulator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("simulator: %w", err)
			}
			return nil
		})
	}

	if s.advertiser != nil {
		g.Go(func() error {
			s.advertise(ctx)
			<-ctx.Done()
			s.advertiser.Shutdown()
			return nil
		})
	}

	err := g.Wait()
	slog.Info("Shadow server stopped")
	return err
}

// advertise announces each transport once it is bound. Failures are logged;
// the transports stay usable without discovery.
func (s *ShadowServer) advertise(ctx context.Context) {
	type bound interface {
		Ready() <-chan struct{}
		ListenAddr() string
		Meta() services.TransportMeta
	}

	var pending []bound
	if s.tcp != nil {
		pending = append(pending, s.tcp)
	}
	if s.ws != nil {
		pending = append(pending, s.ws)
	}

	for _, t := range pending {
		select {
		case <-ctx.Done():
			return
		case <-t.Ready():
		}
		if err := s.advertiser.Advertise(t.Meta().Protocol, t.ListenAddr()); err != nil {
			slog.Warn("mDNS advertisement failed", "protocol", t.Meta().Protocol, "error", err.Error())
		}
	}
}

// SetupLogger installs the process-wide logger described by cfg.
func SetupLogger(cfg config.LogConfig, w io.Writer) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
