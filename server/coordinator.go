package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mbocsi/vshadow/services"
)

var errCoordinatorStopped = errors.New("server is shutting down")

// Coordinator binds transports to the signal service. It owns the connection
// registry and the live subscription streams of every connection.
type Coordinator struct {
	Registery  *ConnectionRegistry
	Service    services.SignalAPI
	Transports []Transport

	streams *streamTable
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders wg.Add in startStream before the wg.Wait in stop.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewCoordinator(registery *ConnectionRegistry, service services.SignalAPI) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		Registery: registery,
		Service:   service,
		streams:   newStreamTable(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs every registered transport until ctx is done, then shuts them
// down and waits for the subscription streams to end.
func (c *Coordinator) Start(ctx context.Context) error {
	errs := make(chan error, len(c.Transports))
	for _, t := range c.Transports {
		go func(t Transport) {
			if err := t.Start(); err != nil {
				slog.Error("Transport stopped with error", "protocol", t.Meta().Protocol, "error", err.Error())
				errs <- err
			}
		}(t)
	}

	var startErr error
	select {
	case <-ctx.Done():
	case startErr = <-errs:
	}
	slog.Info("Shutting down transports")

	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	c.stop()
	return startErr
}

// stop cancels every subscription stream and waits for them to end. Streams
// requested afterwards are refused.
func (c *Coordinator) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterClient)
	t.OnDisconnect(c.UnregisterClient)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterClient(client Client) error {
	c.Registery.Store(client)

	slog.Info("Registered client", "id", client.Meta().Id)
	return nil
}

// UnregisterClient forgets the client and cancels its subscription streams.
// Locks it holds are kept; they belong to the token, not the connection.
func (c *Coordinator) UnregisterClient(client Client) {
	id := client.Meta().Id
	if !c.Registery.Delete(id) {
		slog.Debug("Unregistering unknown client", "id", id)
	}
	if n := c.streams.cancelConn(id); n > 0 {
		slog.Info("Cancelled subscriptions of disconnected client", "id", id, "streams", n)
	}
}

// Connections describes every registered client with its live stream count.
func (c *Coordinator) Connections() []services.ConnectionInfo {
	infos := c.Registery.Snapshot()
	for i := range infos {
		infos[i].Streams = c.streams.countConn(infos[i].ID)
	}
	return infos
}

// ActiveStreams returns the number of live subscription streams.
func (c *Coordinator) ActiveStreams() int {
	return c.streams.count()
}
