// Package events provides the in-process lifecycle event bus consumed by
// the sub-process manager and the orchestrator.
package events

import (
	"log/slog"
	"sync"

	"github.com/praxisflow/praxis/pkg/core"
)

const defaultBuffer = 16

// Bus is a typed publish-subscribe channel for process lifecycle events.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the drop is logged.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan core.ProcessEvent
	buffer int
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel buffer.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used for drop reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]chan core.ProcessEvent),
		buffer: defaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber and returns its receive channel
// together with a cancel function. The cancel function is idempotent and
// closes the channel so pending receives unblock.
func (b *Bus) Subscribe() (<-chan core.ProcessEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan core.ProcessEvent, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(event core.ProcessEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("events.bus.drop",
				slog.Int("subscriber", id),
				slog.String("event", string(event.Type)),
				slog.String("instance_id", event.InstanceID),
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
