// Package dispatch delivers gateway events to registered handlers. Delivery
// is deliberately synchronous and sequential: the gateway hands events over
// in arrival order and that order is part of the platform's contract, so
// there is no fan-out and no queueing here. A slow handler slows ingestion,
// never reorders it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NAFTeam/NAFF-sub001/pkg/naff"
)

// Wildcard subscribes a handler to every event regardless of type.
const Wildcard = "*"

// Handler consumes one event. Handlers run on the dispatching goroutine;
// panics are recovered and logged so one broken handler cannot take down
// the gateway read loop.
type Handler func(ctx context.Context, event naff.Event)

type subscription struct {
	id      int64
	handler Handler
}

// Dispatcher routes events to handlers by event type string.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscription
}

// New creates a dispatcher. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers a handler for one event type (or Wildcard for all)
// and returns its cancel function. Handlers for a type run in registration
// order.
func (d *Dispatcher) Subscribe(eventType string, handler Handler) (cancel func()) {
	if handler == nil {
		return func() {}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[eventType] = append(d.subs[eventType], subscription{id: id, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		remaining := d.subs[eventType][:0]
		for _, sub := range d.subs[eventType] {
			if sub.id != id {
				remaining = append(remaining, sub)
			}
		}
		if len(remaining) == 0 {
			delete(d.subs, eventType)
			return
		}
		d.subs[eventType] = remaining
	}
}

// Dispatch runs every handler registered for the event's type, then the
// wildcard handlers, sequentially on the calling goroutine. The handler
// list is snapshotted first so handlers may subscribe or cancel without
// deadlocking the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, event naff.Event) {
	if event == nil {
		return
	}

	eventType := event.EventType()

	d.mu.RLock()
	matched := make([]subscription, 0, len(d.subs[eventType])+len(d.subs[Wildcard]))
	matched = append(matched, d.subs[eventType]...)
	matched = append(matched, d.subs[Wildcard]...)
	d.mu.RUnlock()

	for _, sub := range matched {
		if err := runSafely("handle "+eventType, func() error {
			sub.handler(ctx, event)
			return nil
		}); err != nil {
			d.logger.Error("event handler failed", "event_type", eventType, "error", err)
		}
	}
}

// runSafely executes fn and converts panics into returned errors tagged
// with scope, so a handler crash surfaces as a log line instead of tearing
// down the read loop.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
