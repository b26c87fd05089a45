package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbocsi/vshadow/services"
)

// WebServer exposes the signal service as a JSON API with an SSE
// subscription stream.
type WebServer struct {
	services *services.ServiceContainer
	metrics  http.Handler

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool
	ready    chan struct{}
}

// NewWebServer builds the API. metrics is mounted on /metrics when not nil.
func NewWebServer(serviceContainer *services.ServiceContainer, metrics http.Handler) *WebServer {
	return &WebServer{
		services: serviceContainer,
		metrics:  metrics,
		ready:    make(chan struct{}),
	}
}

// Routes returns the HTTP routes of the API
func (w *WebServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", w.HandleHealth)
	if w.metrics != nil {
		r.Handle("/metrics", w.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/signals", w.HandleGetSignals)
		r.Put("/signals", w.HandleSetSignals)
		r.Get("/locks", w.HandleListLocks)
		r.Post("/locks", w.HandleLock)
		r.Delete("/locks/{token}", w.HandleUnlock)
		r.Delete("/admin/locks/{path}", w.HandleForceUnlock)
		r.Get("/subscribe", w.HandleSubscribe)
		r.Get("/transports", w.HandleTransports)
		r.Get("/connections", w.HandleConnections)
	})
	return r
}

// Start serves on addr until Shutdown.
func (w *WebServer) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:     w.Routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancel()
		return l.Close()
	}
	w.srv = srv
	w.listener = l
	w.cancel = cancel
	w.mu.Unlock()
	close(w.ready)

	slog.Info("Starting web server", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the listener is bound.
func (w *WebServer) Ready() <-chan struct{} {
	return w.ready
}

func (w *WebServer) ListenAddr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Shutdown ends open subscription streams and stops the server.
func (w *WebServer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	srv, cancel := w.srv, w.cancel
	w.mu.Unlock()
	if srv == nil {
		return nil
	}

	slog.Info("Shutting down web server")
	cancel()
	return srv.Shutdown(ctx)
}
