package events

import (
	"sync"
	"sync/atomic"
)

// Stream fans bus events out to watchers that come and go, such as
// websocket clients. A watcher that falls behind loses events instead of
// blocking the emitter.
type Stream struct {
	mu       sync.RWMutex
	watchers map[uint64]chan Event
	nextID   uint64
	dropped  atomic.Uint64
}

// NewStream creates a stream and subscribes it to every kind on bus.
func NewStream(bus *Bus) *Stream {
	s := &Stream{watchers: make(map[uint64]chan Event)}
	if bus != nil {
		bus.SubscribeAll(s.Handle)
	}
	return s
}

// Handle delivers evt to every watcher without blocking.
func (s *Stream) Handle(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Watch registers a watcher with the given buffer. The returned cancel
// func unregisters it and closes the channel; it is safe to call twice.
func (s *Stream) Watch(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Watchers returns the number of registered watchers.
func (s *Stream) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

// Dropped returns how many deliveries were skipped for slow watchers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
