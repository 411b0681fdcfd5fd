// Package bus fans events out from the connection manager to every listening
// render surface. Delivery is at-most-once and best effort: a subscriber whose
// buffer is full misses the event and reconciles from the state store.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"pulse.klederson.com/internal/config"
	"pulse.klederson.com/internal/metrics"
	"pulse.klederson.com/internal/state"
)

// Kind tags an Event.
type Kind int

const (
	KindStatus Kind = iota
	KindSample
	KindSettingsChanged
)

func (k Kind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindSettingsChanged:
		return "settingsChanged"
	default:
		return "status"
	}
}

// Event is one of StatusEvent, SampleEvent, SettingsChangedEvent.
type Event interface {
	Kind() Kind
}

// StatusEvent reports a phase transition.
type StatusEvent struct {
	Phase  state.Phase
	Device string
}

// SampleEvent carries one reading.
type SampleEvent struct {
	Sample state.Sample
}

// SettingsChangedEvent tells surfaces to re-fetch settings.
type SettingsChangedEvent struct{}

func (StatusEvent) Kind() Kind          { return KindStatus }
func (SampleEvent) Kind() Kind          { return KindSample }
func (SettingsChangedEvent) Kind() Kind { return KindSettingsChanged }

// Bus is a non-blocking fan-out channel.
type Bus struct {
	buffer  int
	metrics metrics.Collector

	subs   *xsync.Map[uint64, *subscriber]
	nextID atomic.Uint64
}

func New(buffer int, m metrics.Collector) *Bus {
	if buffer <= 0 {
		buffer = config.BusBuffer
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Bus{
		buffer:  buffer,
		metrics: m,
		subs:    xsync.NewMap[uint64, *subscriber](),
	}
}

// Publish delivers ev to every current subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.subs.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.trySend(ev) {
			b.metrics.BusDropped()
		}
		return true
	})
}

// Subscribe returns a receive channel and an idempotent unsubscribe function
// that also closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := b.nextID.Add(1)
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	b.subs.Store(id, sub)

	return sub.ch, func() {
		if s, ok := b.subs.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// Subscribers returns the number of listeners.
func (b *Bus) Subscribers() int {
	return b.subs.Size()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) trySend(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
