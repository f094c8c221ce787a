package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 64

var seq atomic.Uint64

// Broker is a generic pub/sub event broker.
// It allows multiple subscribers to receive events published by publishers.
//
// Every subscription owns an unbounded FIFO queue drained by its own goroutine,
// so Publish never blocks on a slow subscriber and never drops an event.
type Broker[T any] struct {
	subs       map[*subscription[T]]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a new broker with the default channel buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a new broker whose Subscribe channels have the given buffer size.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 0 {
		size = 0
	}
	return &Broker[T]{
		subs:       make(map[*subscription[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// subscription is one subscriber's queue and delivery state.
type subscription[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event[T]
	closed bool
	done   chan struct{}

	// Exactly one of out or fn is set.
	out chan Event[T]
	fn  func(Event[T])
}

func newSubscription[T any]() *subscription[T] {
	s := &subscription[T]{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription[T]) push(event Event[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, event)
	s.cond.Signal()
}

// stop marks the subscription closed and drops anything still queued.
func (s *subscription[T]) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.cond.Broadcast()
}

// next blocks until an event is queued or the subscription is stopped.
func (s *subscription[T]) next() (Event[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return Event[T]{}, false
	}
	event := s.queue[0]
	s.queue[0] = Event[T]{}
	s.queue = s.queue[1:]
	return event, true
}

// pump delivers queued events in order until the subscription stops.
func (s *subscription[T]) pump() {
	if s.out != nil {
		defer close(s.out)
	}
	for {
		event, ok := s.next()
		if !ok {
			return
		}
		if s.fn != nil {
			s.fn(event)
			continue
		}
		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}

func (b *Broker[T]) add(s *subscription[T]) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Check if broker is closed
	select {
	case <-b.done:
		return false
	default:
	}

	b.subs[s] = struct{}{}
	return true
}

func (b *Broker[T]) remove(s *subscription[T]) {
	b.mu.Lock()
	if b.subs != nil {
		delete(b.subs, s)
	}
	b.mu.Unlock()
	s.stop()
}

// Subscribe creates a new subscription channel.
// The channel is automatically closed when ctx is cancelled or the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	s := newSubscription[T]()
	s.out = make(chan Event[T], b.bufferSize)

	if !b.add(s) {
		close(s.out)
		return s.out
	}

	// Cleanup goroutine
	go func() {
		select {
		case <-ctx.Done():
			b.remove(s)
		case <-s.done:
		}
	}()

	go s.pump()
	return s.out
}

// SubscribeFunc registers a handler that is called, on a goroutine owned by the
// subscription, for every event in publish order. The returned function
// unsubscribes; it is idempotent and may be called from inside the handler.
func (b *Broker[T]) SubscribeFunc(fn func(Event[T])) (unsubscribe func()) {
	s := newSubscription[T]()
	s.fn = fn

	if !b.add(s) {
		return func() {}
	}

	go s.pump()
	return func() { b.remove(s) }
}

// Publish sends an event to all subscribers.
// Non-blocking: each subscriber queues the event until it can be delivered.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		Seq:       seq.Add(1),
	}

	for sub := range b.subs {
		sub.push(event)
	}
}

// Close shuts down the broker and all subscriptions.
// Events still queued for a subscriber are discarded.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return // Already closed
	default:
	}

	close(b.done)
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
