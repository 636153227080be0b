package progress

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-process pub/sub sink. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	subscribers sync.Map
	bufferSize  int
	dropped     atomic.Int64
}

// Subscriber receives events published on a Bus.
type Subscriber struct {
	ID string
	// Names filters by event name; empty receives everything.
	Names []string
	Ch    chan Event

	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{bufferSize: bufferSize}
}

// Notify publishes e to every matching subscriber without blocking.
func (b *Bus) Notify(e Event) {
	b.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if !sub.matches(e.Name) {
			return true
		}
		if !sub.deliver(e) {
			b.dropped.Add(1)
		}
		return true
	})
}

// Subscribe registers a subscriber under id. An existing subscriber with the
// same id is replaced and its channel closed.
func (b *Bus) Subscribe(id string, names ...string) *Subscriber {
	sub := &Subscriber{ID: id, Names: names, Ch: make(chan Event, b.bufferSize)}
	if old, loaded := b.subscribers.Swap(id, sub); loaded {
		old.(*Subscriber).close()
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	if value, ok := b.subscribers.LoadAndDelete(id); ok {
		value.(*Subscriber).close()
	}
}

// Close unsubscribes every subscriber, closing their channels.
func (b *Bus) Close() {
	b.subscribers.Range(func(key, _ interface{}) bool {
		b.Unsubscribe(key.(string))
		return true
	})
}

// Dropped returns how many deliveries were dropped on full channels.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (s *Subscriber) matches(name string) bool {
	if len(s.Names) == 0 {
		return true
	}
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// deliver sends e without blocking. It reports false when the channel is full.
func (s *Subscriber) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.Ch <- e:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}
