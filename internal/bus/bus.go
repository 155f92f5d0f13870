// Package bus provides the in-process publish/subscribe backbone connecting
// the hot-reload components. Every subscriber sees every event in publish
// order; a slow subscriber under the drop-oldest policy never stalls the
// publisher or the other subscribers.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Policy controls what happens when a subscriber's queue is full.
type Policy int

const (
	// DropOldest evicts the oldest queued event to make room for the new
	// one. The bus never blocks on this subscriber.
	DropOldest Policy = iota

	// Block applies backpressure: Publish waits until the subscriber has
	// room or the subscription closes.
	Block
)

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 64

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	name   string
	policy Policy
	ch     chan Event
	done   chan struct{}
	onDrop func()

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	dropped  atomic.Uint64
}

// Events returns the subscriber's event channel. It is closed when the
// subscription is canceled or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Name returns the subscriber name given at Subscribe time.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped returns how many events were evicted under the DropOldest policy.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// deliver enqueues an event according to the subscription's policy.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if s.policy == Block {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
		return
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Queue full: evict the oldest entry and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		default:
		}
	}
}

// close marks the subscription closed, waits for in-flight deliveries, and
// closes the channel.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.inflight.Wait()
	close(s.ch)
}

// Bus is the process-wide event bus.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
	onDrop func()
}

// Option configures a subscription.
type Option func(*Subscription)

// WithQueueSize sets the subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Subscription) {
		if n > 0 {
			s.ch = make(chan Event, n)
		}
	}
}

// WithPolicy sets the overflow policy.
func WithPolicy(p Policy) Option {
	return func(s *Subscription) {
		s.policy = p
	}
}

// New creates a new event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// OnDrop installs a hook invoked once per evicted event, for all
// subscriptions created after the call. Set it before subscribing.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a named subscriber. The default queue size is
// DefaultQueueSize and the default policy is DropOldest.
func (b *Bus) Subscribe(name string, opts ...Option) *Subscription {
	b.mu.Lock()
	onDrop := b.onDrop
	b.mu.Unlock()

	sub := &Subscription{
		name:   name,
		policy: DropOldest,
		ch:     make(chan Event, DefaultQueueSize),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.done)
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every subscriber in registration order.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}

// Close shuts down the bus and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
