package store

import (
	"github.com/mbocsi/vshadow/proto"
)

// Broker maps a signal path to the set of channels watching it. It is not safe
// for concurrent use on its own; SignalStore serializes every call under its
// mutex so that a state change and its fan-out form one step.
type Broker struct {
	subs  map[string]map[chan<- proto.Signal]struct{} // Map path to hashset of delivery channels
	total int
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan<- proto.Signal]struct{}),
	}
}

// Subscribe adds ch to the set for path. It reports false if ch was already
// registered there.
func (b *Broker) Subscribe(path string, ch chan<- proto.Signal) bool {
	if b.subs[path] == nil {
		b.subs[path] = make(map[chan<- proto.Signal]struct{})
	}
	if _, exists := b.subs[path][ch]; exists {
		return false
	}
	b.subs[path][ch] = struct{}{}
	b.total++
	return true
}

// Unsubscribe removes ch from the set for path. Removing a channel that is not
// registered is a no-op.
func (b *Broker) Unsubscribe(path string, ch chan<- proto.Signal) bool {
	subs, ok := b.subs[path]
	if !ok {
		return false
	}
	if _, exists := subs[ch]; !exists {
		return false
	}
	delete(subs, ch)
	b.total--
	if len(subs) == 0 {
		delete(b.subs, path)
	}
	return true
}

// Publish hands sig to every channel registered on sig.Path without blocking.
// A channel whose buffer is full misses this update; onDrop is called for it.
func (b *Broker) Publish(sig proto.Signal, onDrop func(path string)) (delivered, dropped int) {
	for ch := range b.subs[sig.Path] {
		select {
		case ch <- sig:
			delivered++
		default:
			dropped++
			if onDrop != nil {
				onDrop(sig.Path)
			}
		}
	}
	return delivered, dropped
}

func (b *Broker) Subscribers(path string) int {
	return len(b.subs[path])
}

func (b *Broker) Total() int {
	return b.total
}
