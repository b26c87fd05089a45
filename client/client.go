package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/vshadow/proto"
)

const (
	DefaultTimeout = 5 * time.Second

	subscriptionBuffer = 64
)

// ErrClosed is returned by calls made after the connection ended.
var ErrClosed = errors.New("client is closed")

// RemoteError is an error message sent by the server for a request it could
// not decode.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

type Option func(*Client)

// WithTimeout bounds how long a call waits for its reply when the context
// has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client calls a vshadow server over a Transport. Calls may be made from
// several goroutines; replies are matched to calls by envelope id.
type Client struct {
	transport Transport
	tracker   *requestTracker
	timeout   time.Duration

	subMu sync.Mutex
	subs  map[string]*Subscription

	started atomic.Bool
	done    chan struct{}
	errMu   sync.Mutex
	readErr error
	once    sync.Once
}

func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		tracker:   newRequestTracker(),
		timeout:   DefaultTimeout,
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DialTCP connects to a TCP transport.
func DialTCP(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := NewClient(NewTCPTransport(), opts...)
	if err := c.Start(ctx, addr); err != nil {
		return nil, err
	}
	return c, nil
}

// DialWebSocket connects to a WebSocket transport. addr is a ws:// URL or a
// bare host:port.
func DialWebSocket(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := NewClient(NewWebSocketTransport(), opts...)
	if err := c.Start(ctx, addr); err != nil {
		return nil, err
	}
	return c, nil
}

// Start connects the transport and starts reading replies. ctx bounds the
// connection attempt only.
func (c *Client) Start(ctx context.Context, addr string) error {
	if err := c.transport.Connect(ctx, addr); err != nil {
		return err
	}
	c.started.Store(true)
	go c.readLoop()
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) Close() error {
	err := c.transport.Close()
	if c.started.Load() {
		<-c.done
	}
	return err
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.finish(err)
	}()

	for {
		var msg proto.Message
		msg, err = c.transport.Read()
		if err != nil {
			return
		}
		slog.Debug("Message Received", "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))

		switch msg.Type {
		case proto.TypeSignal:
			c.deliver(msg)

		case proto.TypeSubscribeEnd:
			var end proto.SubscribeEnd
			if err := json.Unmarshal(msg.Payload, &end); err != nil {
				slog.Warn("Invalid subscribe_end payload", "id", msg.ID, "error", err.Error())
			}
			c.endSubscription(msg.ID, end.ErrorMessage)

		default:
			if !c.tracker.resolve(msg) {
				if msg.Type == proto.TypeError {
					c.endSubscription(msg.ID, errorMessage(msg))
					continue
				}
				slog.Warn("Unhandled message", "type", msg.Type, "id", msg.ID)
			}
		}
	}
}

func (c *Client) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.readErr = err
		c.errMu.Unlock()
		close(c.done)

		c.subMu.Lock()
		subs := c.subs
		c.subs = make(map[string]*Subscription)
		c.subMu.Unlock()
		for _, sub := range subs {
			sub.end(ErrClosed)
		}
	})
}

// call sends a request of type reqType and decodes the reply into resp.
func (c *Client) call(ctx context.Context, reqType string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", reqType, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id, replyCh := c.tracker.register()
	defer c.tracker.forget(id)

	if err := c.transport.Send(proto.Message{
		Type:      reqType,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("failed to send %s request: %w", reqType, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Type == proto.TypeError {
			return &RemoteError{Message: errorMessage(reply)}
		}
		if reply.Type != proto.ResponseType(reqType) {
			return fmt.Errorf("unexpected reply type %q to %s", reply.Type, reqType)
		}
		if err := json.Unmarshal(reply.Payload, resp); err != nil {
			return fmt.Errorf("invalid %s payload: %w", reply.Type, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s reply: %w", reqType, ctx.Err())
	case <-c.done:
		return ErrClosed
	}
}

func errorMessage(msg proto.Message) string {
	var payload proto.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return string(msg.Payload)
	}
	return payload.Message
}

func (c *Client) Get(ctx context.Context, paths ...string) (proto.GetResponse, error) {
	var resp proto.GetResponse
	err := c.call(ctx, proto.TypeGet, proto.GetRequest{Paths: paths}, &resp)
	return resp, err
}

func (c *Client) Set(ctx context.Context, req proto.SetRequest) (proto.SetResponse, error) {
	var resp proto.SetResponse
	err := c.call(ctx, proto.TypeSet, req, &resp)
	return resp, err
}

// SetValue writes one value, leaving the capability and availability flags
// unchanged.
func (c *Client) SetValue(ctx context.Context, path string, value proto.Value, token string) (proto.SetResponse, error) {
	return c.Set(ctx, proto.SetRequest{
		Signals: []proto.SetSignalRequest{{Path: path, State: proto.StatePatch{Value: &value}}},
		Token:   token,
	})
}

func (c *Client) Lock(ctx context.Context, paths ...string) (proto.LockResponse, error) {
	var resp proto.LockResponse
	err := c.call(ctx, proto.TypeLock, proto.LockRequest{Paths: paths}, &resp)
	return resp, err
}

func (c *Client) Unlock(ctx context.Context, token string) (proto.UnlockResponse, error) {
	var resp proto.UnlockResponse
	err := c.call(ctx, proto.TypeUnlock, proto.UnlockRequest{Token: token}, &resp)
	return resp, err
}

// Unsubscribe ends every subscription of this connection that watches any of
// paths.
func (c *Client) Unsubscribe(ctx context.Context, paths ...string) (proto.UnsubscribeResponse, error) {
	var resp proto.UnsubscribeResponse
	err := c.call(ctx, proto.TypeUnsubscribe, proto.UnsubscribeRequest{Paths: paths}, &resp)
	return resp, err
}

// Subscription is one live subscribe stream.
type Subscription struct {
	ID    string
	Paths []string

	updates chan proto.SubscribeResponse
	done    chan struct{}
	once    sync.Once
	err     error
	client  *Client
}

// Updates yields stream items. It is closed when the stream ends.
func (s *Subscription) Updates() <-chan proto.SubscribeResponse {
	return s.updates
}

// Done is closed when the stream ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err waits for the stream to end and returns why. It is nil after a normal
// cancellation.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close asks the server to end the stream. Other subscriptions of the same
// client that share a path end too.
func (s *Subscription) Close(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	_, err := s.client.Unsubscribe(ctx, s.Paths...)
	return err
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		close(s.updates)
	})
}

// Subscribe starts a stream of updates for paths. Updates made before the
// server registers the stream are not delivered.
func (c *Client) Subscribe(ctx context.Context, paths ...string) (*Subscription, error) {
	payload, err := json.Marshal(proto.SubscribeRequest{Paths: paths})
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Paths:   paths,
		updates: make(chan proto.SubscribeResponse, subscriptionBuffer),
		done:    make(chan struct{}),
		client:  c,
	}
	id := uuid.NewString()
	sub.ID = id

	c.subMu.Lock()
	select {
	case <-c.done:
		c.subMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.subs[id] = sub
	c.subMu.Unlock()

	if err := c.transport.Send(proto.Message{
		Type:      proto.TypeSubscribe,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
		return nil, fmt.Errorf("failed to send subscribe request: %w", err)
	}
	return sub, nil
}

// deliver routes a stream item to its subscription. Items are dropped when
// the subscriber does not keep up, so replies to calls are never held back.
func (c *Client) deliver(msg proto.Message) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subs[msg.ID]
	if !ok {
		slog.Debug("Signal for unknown subscription", "id", msg.ID)
		return
	}

	var item proto.SubscribeResponse
	if err := json.Unmarshal(msg.Payload, &item); err != nil {
		slog.Warn("Invalid signal payload", "id", msg.ID, "error", err.Error())
		return
	}

	select {
	case sub.updates <- item:
	default:
		slog.Warn("Subscription buffer full, dropping update", "id", msg.ID)
	}
}

func (c *Client) endSubscription(id, message string) {
	c.subMu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.subMu.Unlock()
	if !ok {
		return
	}

	var err error
	if message != "" {
		err = &RemoteError{Message: message}
	}
	sub.end(err)
}
