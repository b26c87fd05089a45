package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mbocsi/vshadow/proto"
)

func (c *Coordinator) Handle(msg proto.Message) {
	client, ok := c.Registery.Touch(msg.Sender)
	if !ok {
		slog.Warn("Client ID not found", "client", msg.Sender)
		return
	}

	switch msg.Type {
	case proto.TypeGet:
		var req proto.GetRequest
		if decode(client, msg, &req) {
			reply(client, msg, c.Service.Get(req))
		}

	case proto.TypeSet:
		var req proto.SetRequest
		if decode(client, msg, &req) {
			reply(client, msg, c.Service.Set(req))
		}

	case proto.TypeLock:
		var req proto.LockRequest
		if decode(client, msg, &req) {
			reply(client, msg, c.Service.Lock(req))
		}

	case proto.TypeUnlock:
		var req proto.UnlockRequest
		if decode(client, msg, &req) {
			reply(client, msg, c.Service.Unlock(req))
		}

	case proto.TypeSubscribe:
		var req proto.SubscribeRequest
		if decode(client, msg, &req) {
			c.startStream(client, msg.ID, req)
		}

	case proto.TypeUnsubscribe:
		var req proto.UnsubscribeRequest
		if decode(client, msg, &req) {
			if n := c.streams.cancelPaths(client.Meta().Id, req.Paths); n > 0 {
				slog.Debug("Cancelled subscription streams", "client", client.Meta().Id, "streams", n)
			}
			reply(client, msg, c.Service.Unsubscribe(req))
		}

	default:
		slog.Warn("Unhandled message type", "type", msg.Type, "sender", msg.Sender)
		replyError(client, msg.ID, "Unknown message type: "+msg.Type)
	}
}

// startStream runs one Subscribe call in its own goroutine. The stream ends
// when the coordinator stops, the client disconnects or unsubscribes, or a
// send fails; a TypeSubscribeEnd message is then sent if the client is still
// reachable.
func (c *Coordinator) startStream(client Client, id string, req proto.SubscribeRequest) {
	connID := client.Meta().Id

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		slog.Debug("Subscription refused during shutdown", "client", connID)
		c.endStream(client, id, errCoordinatorStopped)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(c.ctx)
	entry := c.streams.add(connID, req.Paths, cancel)

	go func() {
		defer c.wg.Done()
		defer cancel()
		defer c.streams.remove(connID, entry)

		stream := &clientStream{ctx: ctx, client: client, id: id}
		err := c.Service.Subscribe(req, stream)
		if err != nil {
			slog.Info("Subscription stream failed", "client", connID, "error", err.Error())
		}
		c.endStream(client, id, err)
	}()
}

// endStream sends TypeSubscribeEnd for stream id, carrying err if set, unless
// the client has already disconnected.
func (c *Coordinator) endStream(client Client, id string, err error) {
	connID := client.Meta().Id
	if _, connected := c.Registery.Get(connID); !connected {
		return
	}

	var end proto.SubscribeEnd
	if err != nil {
		end.ErrorMessage = err.Error()
	}
	payload, _ := json.Marshal(end)
	if sendErr := client.Send(proto.Message{
		Type:      proto.TypeSubscribeEnd,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}); sendErr != nil {
		slog.Debug("Failed to send subscribe_end", "client", connID, "error", sendErr.Error())
	}
}

// decode unmarshals the payload of msg into v, answering with an error
// message when it cannot.
func decode(client Client, msg proto.Message, v any) bool {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		slog.Warn("Invalid payload", "type", msg.Type, "sender", msg.Sender, "error", err.Error())
		replyError(client, msg.ID, "Invalid "+msg.Type+" payload: "+err.Error())
		return false
	}
	return true
}

func reply(client Client, req proto.Message, resp any) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to marshal response", "type", req.Type, "error", err.Error())
		replyError(client, req.ID, "Failed to encode response")
		return
	}
	send(client, proto.Message{
		Type:      proto.ResponseType(req.Type),
		ID:        req.ID,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

func replyError(client Client, id, message string) {
	payload, _ := json.Marshal(proto.ErrorPayload{Message: message})
	send(client, proto.Message{
		Type:      proto.TypeError,
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

func send(client Client, msg proto.Message) {
	if err := client.Send(msg); err != nil {
		slog.Warn("Failed to send message", "to", client.Meta().Id, "type", msg.Type, "error", err.Error())
	}
}
