package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MatchAll subscribes a handler to every event type.
const MatchAll = "*"

// Event is a single notification fired on the bus.
type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"data"`
	Time time.Time      `json:"time_fired"`
}

// Handler receives fired events. Handlers run on the firing goroutine and
// must not block for long; slow sinks should hand off to their own goroutine.
type Handler func(ctx context.Context, ev Event)

// Logger is the subset of logging.Logger the bus needs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

type subscriber struct {
	eventType string
	handler   Handler
}

// Bus fans events out to subscribed handlers.
//
// Thread Safety:
//   - Subscribe, Fire and the returned unsubscribe funcs are safe for concurrent use.
//   - A handler panic is recovered and logged; other handlers still run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	logger Logger
	now    func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for recovered handler panics.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the clock stamped on fired events.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]subscriber),
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for eventType (or MatchAll) and returns a
// func that removes the subscription. Calling it twice is harmless.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{eventType: eventType, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Fire delivers an event to every matching handler in subscription order.
func (b *Bus) Fire(ctx context.Context, eventType string, data map[string]any) {
	ev := Event{Type: eventType, Data: data, Time: b.now().UTC()}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, sub := range b.subs {
		if sub.eventType == eventType || sub.eventType == MatchAll {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic recovered",
				"event_type", ev.Type,
				"panic", r,
			)
		}
	}()
	h(ctx, ev)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
