package resolver

import (
	"sync"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

const subscriberBuffer = 16

// endpointFeed publishes the current endpoint to subscribers.
// Each subscriber first receives the value current at subscription time; later values
// are delivered only when they differ from the previous one. A subscriber that falls
// more than subscriberBuffer values behind loses the oldest pending ones.
type endpointFeed struct {
	mu      sync.Mutex
	current domain.Endpoint
	nextID  int
	subs    map[int]chan domain.Endpoint
	closed  bool
}

func newEndpointFeed(initial domain.Endpoint) *endpointFeed {
	return &endpointFeed{current: initial, subs: make(map[int]chan domain.Endpoint)}
}

func (f *endpointFeed) Current() domain.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish sets the current endpoint. It reports whether the value changed.
func (f *endpointFeed) Publish(e domain.Endpoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || e == f.current {
		return false
	}
	f.current = e
	for _, ch := range f.subs {
		offer(ch, e)
	}
	return true
}

// Subscribe returns a channel that yields the current endpoint and every later change.
// cancel closes the channel.
func (f *endpointFeed) Subscribe() (<-chan domain.Endpoint, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan domain.Endpoint, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	ch <- f.current

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel; later Publish calls are ignored.
func (f *endpointFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// offer sends e without blocking, dropping the oldest buffered value when full.
// Callers hold the feed lock, so no other sender races for the freed slot.
func offer(ch chan domain.Endpoint, e domain.Endpoint) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}
