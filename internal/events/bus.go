package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coactrun/coact/internal/telemetry"
)

type (
	// Bus publishes plan lifecycle events to registered subscribers in a
	// fan-out pattern. The bus is thread-safe and supports concurrent
	// Publish, Register, and Close operations.
	//
	// Unlike the teacher's fail-fast hooks.Bus, this bus never lets a
	// subscriber's failure affect the publisher: a subscriber is one of
	// several independent observers (logging, Redis mirroring, a future
	// UI feed) of a plan run that must itself keep making progress
	// regardless of what any one observer does with the notification.
	// Errors and panics are logged and swallowed.
	Bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		logger      telemetry.Logger
		nextSeq     uint64
	}

	// Subscriber reacts to published events by implementing HandleEvent.
	Subscriber interface {
		// HandleEvent processes a single event. A returned error is
		// logged by the bus; it never halts delivery to other
		// subscribers or propagates to the publisher.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	subscription struct {
		bus  *Bus
		seq  uint64
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs an event bus. If logger is nil, a no-op logger is used.
func NewBus(logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{subscribers: make(map[*subscription]Subscriber), logger: logger}
}

// Publish delivers event to every currently registered subscriber in
// registration order. Subscribers are invoked synchronously in the
// caller's goroutine; a panic or error from one subscriber is logged and
// swallowed so remaining subscribers still receive the event and the
// publisher is never blocked or aborted by a misbehaving observer.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handles := make([]*subscription, 0, len(b.subscribers))
	for s := range b.subscribers {
		handles = append(handles, s)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })
	subs := make([]Subscriber, len(handles))
	for i, s := range handles {
		subs[i] = b.subscribers[s]
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *Bus) deliver(ctx context.Context, sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event subscriber panicked", "event_type", string(event.Type()), "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := sub.HandleEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn(ctx, "event subscriber returned error", "event_type", string(event.Type()), "error", err)
	}
}

// Register adds a subscriber to the bus and returns a handle that can be
// closed to unregister. Register errors if sub is nil.
func (b *Bus) Register(sub Subscriber) (*subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	s.seq = b.nextSeq
	b.nextSeq++
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
