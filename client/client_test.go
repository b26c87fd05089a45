package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/vshadow/proto"
)

// fakeTransport answers requests with a handler instead of a network peer.
type fakeTransport struct {
	in      chan proto.Message
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	sent    []proto.Message
	handler func(proto.Message) []proto.Message
}

func newFakeTransport(handler func(proto.Message) []proto.Message) *fakeTransport {
	return &fakeTransport{
		in:      make(chan proto.Message, 16),
		closed:  make(chan struct{}),
		handler: handler,
	}
}

func (f *fakeTransport) Connect(ctx context.Context, addr string) error { return nil }

func (f *fakeTransport) Send(msg proto.Message) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.handler != nil {
		for _, reply := range f.handler(msg) {
			f.in <- reply
		}
	}
	return nil
}

func (f *fakeTransport) Read() (proto.Message, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return proto.Message{}, errors.New("connection closed")
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(msg proto.Message) {
	f.in <- msg
}

func (f *fakeTransport) sentMessages() []proto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.Message(nil), f.sent...)
}

// mustMarshal reports an encoding failure without stopping the calling
// goroutine, which may be the client's writer.
func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Errorf("failed to marshal %T: %v", v, err)
	}
	return data
}

func replyTo(t *testing.T, req proto.Message, payload any) proto.Message {
	t.Helper()
	return proto.Message{Type: proto.ResponseType(req.Type), ID: req.ID, Payload: mustMarshal(t, payload)}
}

func speedSignal(v float32) proto.Signal {
	return proto.Signal{
		Path:   "Vehicle.Speed",
		State:  proto.State{Value: proto.FloatValue(v), Capability: true, Availability: true},
		Config: proto.Config{LeafType: proto.LeafSensor, DataType: proto.TypeFloat, Unit: "km/h"},
	}
}

func startClient(t *testing.T, ft *fakeTransport, opts ...Option) *Client {
	t.Helper()
	c := NewClient(ft, opts...)
	require.NoError(t, c.Start(context.Background(), "fake"))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_CallCorrelatesReplies(t *testing.T) {
	ft := newFakeTransport(func(req proto.Message) []proto.Message {
		switch req.Type {
		case proto.TypeGet:
			return []proto.Message{replyTo(t, req, proto.GetResponse{Success: true, Signals: []proto.Signal{speedSignal(3)}})}
		case proto.TypeLock:
			return []proto.Message{replyTo(t, req, proto.LockResponse{Success: true, Token: "tok"})}
		}
		return nil
	})
	c := startClient(t, ft)

	got, err := c.Get(context.Background(), "Vehicle.Speed")
	require.NoError(t, err)
	assert.True(t, got.Success)
	require.Len(t, got.Signals, 1)
	assert.Equal(t, speedSignal(3), got.Signals[0])

	locked, err := c.Lock(context.Background(), "Vehicle.Speed")
	require.NoError(t, err)
	assert.Equal(t, "tok", locked.Token)

	sent := ft.sentMessages()
	require.Len(t, sent, 2)
	assert.NotEmpty(t, sent[0].ID)
	assert.NotEqual(t, sent[0].ID, sent[1].ID)
	assert.Zero(t, c.tracker.size())
}

func TestClient_SetValueSendsPatch(t *testing.T) {
	var got proto.SetRequest
	ft := newFakeTransport(func(req proto.Message) []proto.Message {
		require.NoError(t, json.Unmarshal(req.Payload, &got))
		return []proto.Message{replyTo(t, req, proto.SetResponse{Success: true})}
	})
	c := startClient(t, ft)

	resp, err := c.SetValue(context.Background(), "Vehicle.Speed", proto.FloatValue(12), "tok")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	require.Len(t, got.Signals, 1)
	assert.Equal(t, "tok", got.Token)
	require.NotNil(t, got.Signals[0].State.Value)
	assert.Nil(t, got.Signals[0].State.Availability)
}

func TestClient_RemoteError(t *testing.T) {
	ft := newFakeTransport(func(req proto.Message) []proto.Message {
		data := mustMarshal(t, proto.ErrorPayload{Message: "Invalid get payload"})
		return []proto.Message{{Type: proto.TypeError, ID: req.ID, Payload: data}}
	})
	c := startClient(t, ft)

	_, err := c.Get(context.Background(), "X")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Invalid get payload", remote.Message)
}

func TestClient_Timeout(t *testing.T) {
	c := startClient(t, newFakeTransport(nil), WithTimeout(50*time.Millisecond))

	_, err := c.Get(context.Background(), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.tracker.size())
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	ft := newFakeTransport(nil)
	c := NewClient(ft)
	require.NoError(t, c.Start(context.Background(), "fake"))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "X")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.tracker.size() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("call did not return after close")
	}
	assert.Error(t, c.Err())
}

func TestClient_Subscription(t *testing.T) {
	ft := newFakeTransport(func(req proto.Message) []proto.Message {
		if req.Type == proto.TypeUnsubscribe {
			return []proto.Message{replyTo(t, req, proto.UnsubscribeResponse{Success: true})}
		}
		return nil
	})
	c := startClient(t, ft)

	sub, err := c.Subscribe(context.Background(), "Vehicle.Speed")
	require.NoError(t, err)

	sent := ft.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, proto.TypeSubscribe, sent[0].Type)
	assert.Equal(t, sub.ID, sent[0].ID)

	sig := speedSignal(5)
	data := mustMarshal(t, proto.SubscribeResponse{Signal: &sig})
	ft.push(proto.Message{Type: proto.TypeSignal, ID: sub.ID, Payload: data})
	ft.push(proto.Message{Type: proto.TypeSignal, ID: "someone-else", Payload: data})

	select {
	case item := <-sub.Updates():
		require.NotNil(t, item.Signal)
		assert.Equal(t, "Vehicle.Speed", item.Signal.Path)
		assert.Equal(t, proto.FloatValue(5), item.Signal.State.Value)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	require.NoError(t, sub.Close(context.Background()))
	end := mustMarshal(t, proto.SubscribeEnd{})
	ft.push(proto.Message{Type: proto.TypeSubscribeEnd, ID: sub.ID, Payload: end})

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.NoError(t, sub.Err())
	_, open := <-sub.Updates()
	assert.False(t, open)
}

func TestClient_SubscriptionEndsWithError(t *testing.T) {
	ft := newFakeTransport(nil)
	c := startClient(t, ft)

	sub, err := c.Subscribe(context.Background(), "X")
	require.NoError(t, err)

	end := mustMarshal(t, proto.SubscribeEnd{ErrorMessage: "send failed"})
	ft.push(proto.Message{Type: proto.TypeSubscribeEnd, ID: sub.ID, Payload: end})

	var remote *RemoteError
	require.ErrorAs(t, sub.Err(), &remote)
	assert.Equal(t, "send failed", remote.Message)
}

func TestClient_DisconnectEndsSubscriptions(t *testing.T) {
	ft := newFakeTransport(nil)
	c := NewClient(ft)
	require.NoError(t, c.Start(context.Background(), "fake"))

	sub, err := c.Subscribe(context.Background(), "X")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, sub.Err(), ErrClosed)
	_, err = c.Subscribe(context.Background(), "X")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServiceFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "garage." + proto.ServiceTypeWebSocket + ".local.",
		AddrV4:     net.ParseIP("192.168.1.4"),
		Port:       50052,
		InfoFields: []string{"protocol=websocket"},
	}
	service, ok := serviceFromEntry(proto.ServiceTypeWebSocket, entry)
	require.True(t, ok)
	assert.Equal(t, "garage", service.Instance)
	assert.Equal(t, "websocket", service.Protocol)
	assert.Equal(t, "192.168.1.4:50052", service.Addr())

	entry = &mdns.ServiceEntry{Name: "x", AddrV4: net.ParseIP("10.0.0.1"), Port: 1}
	service, ok = serviceFromEntry(proto.ServiceTypeTCP, entry)
	require.True(t, ok)
	assert.Equal(t, "tcp", service.Protocol)

	_, ok = serviceFromEntry(proto.ServiceTypeTCP, &mdns.ServiceEntry{Name: "no-addr"})
	assert.False(t, ok)
}

func TestDiscoveredServiceAddr(t *testing.T) {
	s := &DiscoveredService{Address: "192.168.1.4", Port: 50051}
	assert.Equal(t, "192.168.1.4:50051", s.Addr())

	s = &DiscoveredService{Address: "fe80::1", Port: 50052}
	assert.Equal(t, "[fe80::1]:50052", s.Addr())
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"localhost:50052", "ws://localhost:50052/"},
		{"ws://10.0.0.2:50052", "ws://10.0.0.2:50052/"},
		{"wss://car.local/rpc", "wss://car.local/rpc"},
		{"tcp://10.0.0.2:50052", "ws://10.0.0.2:50052/"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.addr)
		require.NoError(t, err, tt.addr)
		assert.Equal(t, tt.want, got)
	}

	_, err := websocketURL("http://localhost:50052")
	assert.Error(t, err)
}

func TestTransportsRequireConnect(t *testing.T) {
	for _, tr := range []Transport{NewTCPTransport(), NewWebSocketTransport()} {
		assert.ErrorIs(t, tr.Send(proto.Message{Type: proto.TypeGet}), errNotConnected)
		_, err := tr.Read()
		assert.ErrorIs(t, err, errNotConnected)
		assert.NoError(t, tr.Close())
	}
}
