package services

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/store"
	"github.com/mbocsi/vshadow/telemetry"
)

const (
	MsgLocked   = "Signal is locked by another client"
	MsgNotFound = "Signal not found"

	DefaultSubscriberBuffer = 100
)

type Option func(*SignalService)

func WithCollector(c telemetry.Collector) Option {
	return func(s *SignalService) { s.collector = c }
}

// WithSubscriberBuffer sets the capacity of the delivery channel a Subscribe
// stream registers for each of its paths.
func WithSubscriberBuffer(n int) Option {
	return func(s *SignalService) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

func WithTokenGenerator(fn func() string) Option {
	return func(s *SignalService) { s.newToken = fn }
}

// SignalService implements SignalAPI on top of a SignalStore.
type SignalService struct {
	store      *store.SignalStore
	collector  telemetry.Collector
	bufferSize int
	newToken   func() string
}

func NewSignalService(st *store.SignalStore, opts ...Option) *SignalService {
	s := &SignalService{
		store:      st,
		collector:  telemetry.Noop(),
		bufferSize: DefaultSubscriberBuffer,
		newToken:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// internalError logs a recovered fault and returns the message reported to
// the caller.
func internalError(method string, r any) string {
	slog.Error("Recovered from internal error", "method", method, "panic", fmt.Sprint(r))
	return fmt.Sprintf("Internal error while handling %s", method)
}

func (s *SignalService) observe(method string, start time.Time, success *bool) {
	s.collector.ObserveRequest(method, *success, time.Since(start))
}

// Get returns the requested signals that exist. Unknown paths are skipped, so
// a successful response may hold fewer signals than requested.
func (s *SignalService) Get(req proto.GetRequest) (resp proto.GetResponse) {
	defer s.observe("get", time.Now(), &resp.Success)
	defer func() {
		if r := recover(); r != nil {
			resp = proto.GetResponse{Signals: []proto.Signal{}, ErrorMessage: internalError("get", r)}
		}
	}()

	signals := make([]proto.Signal, 0, len(req.Paths))
	for _, path := range req.Paths {
		sig, ok := s.store.Get(path)
		if !ok {
			slog.Warn("Requested signal not found", "path", path)
			continue
		}
		signals = append(signals, sig)
	}
	return proto.GetResponse{Signals: signals, Success: true}
}

// Set applies every item independently. Item failures are reported per item
// and never fail the batch.
func (s *SignalService) Set(req proto.SetRequest) (resp proto.SetResponse) {
	defer s.observe("set", time.Now(), &resp.Success)
	defer func() {
		if r := recover(); r != nil {
			resp = proto.SetResponse{Results: []proto.SetResult{}, ErrorMessage: internalError("set", r)}
		}
	}()

	results := make([]proto.SetResult, 0, len(req.Signals))
	for _, item := range req.Signals {
		err := s.store.Apply(item.Path, req.Token, item.State)
		s.collector.IncSetResult(outcome(err))

		result := proto.SetResult{Path: item.Path, Success: err == nil}
		if err != nil {
			result.ErrorMessage = itemMessage(err)
			slog.Debug("Set rejected", "path", item.Path, "error", err.Error())
		}
		results = append(results, result)
	}
	return proto.SetResponse{Results: results, Success: true}
}

// Lock issues one token for the whole request and locks every path under it,
// or none of them. Duplicate paths are collapsed.
func (s *SignalService) Lock(req proto.LockRequest) (resp proto.LockResponse) {
	defer s.observe("lock", time.Now(), &resp.Success)
	defer func() {
		if r := recover(); r != nil {
			resp = proto.LockResponse{ErrorMessage: internalError("lock", r)}
		}
	}()

	paths := dedupe(req.Paths)
	if len(paths) == 0 {
		s.collector.IncLockResult(telemetry.OutcomeInvalid)
		return proto.LockResponse{ErrorMessage: "No paths to lock"}
	}

	token := s.newToken()
	if err := s.store.LockAll(paths, token); err != nil {
		s.collector.IncLockResult(outcome(err))
		slog.Info("Lock rejected", "paths", paths, "error", err.Error())
		return proto.LockResponse{ErrorMessage: lockMessage(err)}
	}

	s.collector.IncLockResult(telemetry.OutcomeOK)
	slog.Info("Locked signals", "paths", paths)
	return proto.LockResponse{Success: true, Token: token}
}

// Unlock releases every path held by the token. It fails when the token
// holds nothing.
func (s *SignalService) Unlock(req proto.UnlockRequest) (resp proto.UnlockResponse) {
	defer s.observe("unlock", time.Now(), &resp.Success)
	defer func() {
		if r := recover(); r != nil {
			resp = proto.UnlockResponse{ErrorMessage: internalError("unlock", r)}
		}
	}()

	if req.Token == "" {
		return proto.UnlockResponse{ErrorMessage: "Token is required"}
	}
	released := s.store.UnlockAll(req.Token)
	if len(released) == 0 {
		return proto.UnlockResponse{ErrorMessage: "No signals are locked with this token"}
	}
	slog.Info("Unlocked signals", "paths", released)
	return proto.UnlockResponse{Success: true}
}

// Subscribe streams updates for the requested paths until the stream's
// context ends or a send fails. Each known path gets its own delivery
// channel, and every registration is removed on return whatever the cause.
// Unknown paths are reported on the stream and skipped; when no path is
// known the stream ends at once.
func (s *SignalService) Subscribe(req proto.SubscribeRequest, stream SubscribeStream) (err error) {
	paths := dedupe(req.Paths)
	if len(paths) == 0 {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "No paths to subscribe to"}
	}

	ctx := stream.Context()
	// cases[0] is the stream's cancellation; cases[i] for i > 0 receives from
	// the channel registered under registered[i-1].
	cases := []reflect.SelectCase{{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}}
	registered := make([]string, 0, len(paths))
	channels := make([]chan proto.Signal, 0, len(paths))
	defer func() {
		for i, path := range registered {
			s.store.Unsubscribe(path, channels[i])
		}
		if len(registered) > 0 {
			slog.Debug("Subscription ended", "paths", registered)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = ServiceError{Code: ErrCodeInternal, Message: internalError("subscribe", r)}
		}
	}()

	for _, path := range paths {
		ch := make(chan proto.Signal, s.bufferSize)
		if !s.store.Subscribe(path, ch) {
			if err := stream.Send(&proto.SubscribeResponse{ErrorMessage: MsgNotFound + ": " + path}); err != nil {
				return fmt.Errorf("send subscribe error: %w", err)
			}
			continue
		}
		registered = append(registered, path)
		channels = append(channels, ch)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	if len(registered) == 0 {
		return nil
	}
	slog.Debug("Subscription started", "paths", registered)

	for {
		chosen, recv, _ := reflect.Select(cases)
		if chosen == 0 {
			return nil
		}
		sig := recv.Interface().(proto.Signal)
		if err := stream.Send(&proto.SubscribeResponse{Signal: &sig}); err != nil {
			return fmt.Errorf("send signal %s: %w", sig.Path, err)
		}
	}
}

// Unsubscribe is acknowledged only. Registrations end with their stream.
func (s *SignalService) Unsubscribe(req proto.UnsubscribeRequest) proto.UnsubscribeResponse {
	slog.Debug("Unsubscribe acknowledged", "paths", req.Paths)
	return proto.UnsubscribeResponse{Success: true}
}

func (s *SignalService) List() []proto.Signal {
	return s.store.List()
}

func (s *SignalService) Locks() []store.LockInfo {
	return s.store.Locks()
}

// ForceUnlock clears the lock on path regardless of its holder and returns the
// token that held it.
func (s *SignalService) ForceUnlock(path string) (string, error) {
	token, ok := s.store.ForceUnlock(path)
	if !ok {
		return "", ServiceError{Code: ErrCodeNotFound, Message: "Signal is not locked: " + path}
	}
	slog.Warn("Force unlocked signal", "path", path, "token", token)
	return token, nil
}

func itemMessage(err error) string {
	var mismatch *store.TypeMismatchError
	switch {
	case errors.Is(err, store.ErrLocked):
		return MsgLocked
	case errors.Is(err, store.ErrNotFound):
		return MsgNotFound
	case errors.As(err, &mismatch):
		return fmt.Sprintf("Value type mismatch: expected %s, got %s", mismatch.Expected, mismatch.Got)
	default:
		return err.Error()
	}
}

func lockMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrLocked):
		return MsgLocked
	case errors.Is(err, store.ErrNotFound):
		return MsgNotFound
	default:
		return err.Error()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.Is(err, store.ErrLocked):
		return telemetry.OutcomeLocked
	case errors.Is(err, store.ErrNotFound):
		return telemetry.OutcomeNotFound
	case errors.Is(err, store.ErrTypeMismatch):
		return telemetry.OutcomeInvalid
	default:
		return telemetry.OutcomeConflict
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
