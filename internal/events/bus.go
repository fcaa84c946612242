package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscriptions. Publish delivers to every subscription
// in call order, so events published sequentially by one goroutine arrive in
// that order on each subscription.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives published events on C until Close.
type Subscription struct {
	name    string
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	lossy   bool
	dropped atomic.Uint64
	bus     *Bus
}

// Subscribe registers a blocking subscription: Publish waits for buffer space,
// so a slow consumer applies backpressure but never misses events.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	return b.subscribe(name, buffer, false)
}

// SubscribeLossy registers a subscription that drops events when its buffer is
// full. Dropped() reports how many were lost.
func (b *Bus) SubscribeLossy(name string, buffer int) *Subscription {
	return b.subscribe(name, buffer, true)
}

func (b *Bus) subscribe(name string, buffer int, lossy bool) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{
		name:  name,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
		lossy: lossy,
		bus:   b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers e to every open subscription.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.deliver(e)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription.
func (b *Bus) Close() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}

func (s *Subscription) deliver(e Event) {
	if s.lossy {
		select {
		case s.ch <- e:
		case <-s.done:
		default:
			s.dropped.Add(1)
		}
		return
	}
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

func (s *Subscription) Name() string { return s.name }

// C yields events. It is closed after Close.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Publishers blocked on this subscription are released.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}
