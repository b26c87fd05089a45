package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/telemetry"
)

var (
	ErrNotFound      = errors.New("signal not found")
	ErrLocked        = errors.New("signal is locked by another client")
	ErrTypeMismatch  = errors.New("value type mismatch")
	ErrDuplicate     = errors.New("signal already registered")
	ErrInvalidSignal = errors.New("invalid signal")
)

type Option func(*SignalStore)

// WithLockTTL gives every lock a lease of d. Zero keeps locks until released.
func WithLockTTL(d time.Duration) Option {
	return func(s *SignalStore) { s.lockTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *SignalStore) { s.now = now }
}

func WithCollector(c telemetry.Collector) Option {
	return func(s *SignalStore) { s.collector = c }
}

// SignalStore owns the signal table, the lock table and the subscriber
// registry. A single mutex guards all three: every exported method runs as
// one step with respect to every other, and a state change is handed to its
// subscribers before the lock is released.
type SignalStore struct {
	mu      sync.Mutex
	signals map[string]proto.Signal
	locks   *LockTable
	broker  *Broker

	lockTTL   time.Duration
	now       func() time.Time
	collector telemetry.Collector
}

func NewSignalStore(opts ...Option) *SignalStore {
	s := &SignalStore{
		signals:   make(map[string]proto.Signal),
		broker:    NewBroker(),
		now:       time.Now,
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks = NewLockTable(s.lockTTL, s.now)
	return s
}

// Register adds a new signal. Signals are never removed.
func (s *SignalStore) Register(sig proto.Signal) error {
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[sig.Path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, sig.Path)
	}
	s.signals[sig.Path] = sig
	slog.Debug("Registered signal", "path", sig.Path, "data_type", sig.Config.DataType.String())
	return nil
}

func (s *SignalStore) Get(path string) (proto.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[path]
	return sig, ok
}

// List returns every signal ordered by path.
func (s *SignalStore) List() []proto.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	signals := make([]proto.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		signals = append(signals, sig)
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Path < signals[j].Path })
	return signals
}

// Set replaces the state of a registered signal and notifies its subscribers.
// It reports false for an unregistered path or a value of the wrong type.
// Locks are not consulted.
func (s *SignalStore) Set(path string, state proto.State) bool {
	return s.Update(path, proto.PatchFromState(state))
}

// Update applies patch to a registered signal without consulting locks. It is
// the entry point for producer bindings.
func (s *SignalStore) Update(path string, patch proto.StatePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[path]
	if !ok {
		return false
	}
	if err := checkType(sig, patch); err != nil {
		slog.Warn("Rejected signal update", "path", path, "error", err.Error())
		return false
	}
	s.commit(sig, patch)
	return true
}

// Apply is the lock-aware write used by RPC Set. A path locked under a
// different token yields ErrLocked, an unregistered path ErrNotFound and a
// value of the wrong type ErrTypeMismatch; in every such case the signal is
// left unchanged.
func (s *SignalStore) Apply(path, token string, patch proto.StatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, locked := s.locks.Holder(path)
	if locked && holder != token {
		return ErrLocked
	}
	sig, ok := s.signals[path]
	if !ok {
		return ErrNotFound
	}
	if err := checkType(sig, patch); err != nil {
		return err
	}
	s.commit(sig, patch)
	if locked {
		s.locks.Renew(path, token)
	}
	return nil
}

// TypeMismatchError reports a write whose value kind differs from the
// signal's data type. It matches ErrTypeMismatch under errors.Is.
type TypeMismatchError struct {
	Path     string
	Expected proto.ValueType
	Got      proto.ValueType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: value type mismatch: expected %s, got %s", e.Path, e.Expected, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func checkType(sig proto.Signal, patch proto.StatePatch) error {
	if patch.Value == nil || patch.Value.Type() == sig.Config.DataType {
		return nil
	}
	return &TypeMismatchError{Path: sig.Path, Expected: sig.Config.DataType, Got: patch.Value.Type()}
}

// commit must be called with s.mu held.
func (s *SignalStore) commit(sig proto.Signal, patch proto.StatePatch) {
	sig.State = patch.Apply(sig.State)
	s.signals[sig.Path] = sig

	delivered, dropped := s.broker.Publish(sig, func(path string) {
		slog.Warn("Subscriber buffer full, dropping update", "path", path)
		s.collector.IncDeliveryDropped(path)
	})
	slog.Debug("Signal updated",
		"path", sig.Path,
		"value", sig.State.Value.String(),
		"subscribers", delivered,
		"dropped", dropped,
	)
}

func (s *SignalStore) IsLocked(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, locked := s.locks.Holder(path)
	return locked
}

// Lock records token as the holder of path iff path is registered and
// unlocked.
func (s *SignalStore) Lock(path, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signals[path]; !ok {
		return false
	}
	return s.locks.Acquire(path, token)
}

// LockAll locks every path under token, or none of them. The first
// unregistered path yields ErrNotFound and the first held path ErrLocked,
// both wrapped with the offending path.
func (s *SignalStore) LockAll(paths []string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range paths {
		if _, ok := s.signals[path]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if _, locked := s.locks.Holder(path); locked {
			return fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}
	if !s.locks.AcquireAll(paths, token) {
		return fmt.Errorf("%w: invalid token or empty path list", ErrLocked)
	}
	return nil
}

// Unlock clears the lock on path iff it is held by token.
func (s *SignalStore) Unlock(path, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Release(path, token)
}

// UnlockAll releases every path held by token and returns them.
func (s *SignalStore) UnlockAll(token string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.ReleaseToken(token)
}

// ForceUnlock clears the lock on path whoever holds it and returns the token
// that held it. It exists for operators recovering abandoned locks.
func (s *SignalStore) ForceUnlock(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.ForceRelease(path)
}

func (s *SignalStore) Locks() []LockInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Snapshot()
}

// Subscribe registers ch for updates to path. It reports false if the path is
// not registered.
func (s *SignalStore) Subscribe(path string, ch chan<- proto.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signals[path]; !ok {
		return false
	}
	if s.broker.Subscribe(path, ch) {
		s.collector.SetActiveSubscriptions(s.broker.Total())
		slog.Debug("Subscribed", "path", path, "subscribers", s.broker.Subscribers(path))
	}
	return true
}

// Unsubscribe removes ch from path. Removing an unknown channel is a no-op.
func (s *SignalStore) Unsubscribe(path string, ch chan<- proto.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broker.Unsubscribe(path, ch) {
		s.collector.SetActiveSubscriptions(s.broker.Total())
		slog.Debug("Unsubscribed", "path", path, "subscribers", s.broker.Subscribers(path))
	}
}

func (s *SignalStore) SubscriberCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker.Subscribers(path)
}
