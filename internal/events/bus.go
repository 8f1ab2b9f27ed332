package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the number of undelivered events each subscriber
// may hold before new events for it are dropped.
const DefaultQueueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus delivers events to subscribers without blocking the emitter.
// Every subscriber owns a bounded queue drained by one goroutine, so it
// sees events in emission order and a slow subscriber (a stalled MQTT
// broker, a locked database) only ever loses its own events.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[EventType][]*subscriber
	queueSize int
	stopped   bool
	wg        sync.WaitGroup // one per queued, unhandled event
	workers   sync.WaitGroup
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

type subscriber struct {
	name    string
	handler HandlerFunc
	queue   chan queuedEvent
	dropped atomic.Uint64
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return NewEventBusWithQueue(DefaultQueueSize)
}

// NewEventBusWithQueue creates a bus whose subscribers buffer up to size
// events each.
func NewEventBusWithQueue(size int) *EventBus {
	if size < 1 {
		size = 1
	}
	return &EventBus{
		subs:      make(map[EventType][]*subscriber),
		queueSize: size,
	}
}

// Subscribe registers a handler for eventType. The name identifies the
// handler in logs and for Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}

	s := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan queuedEvent, eb.queueSize),
	}
	eb.subs[eventType] = append(eb.subs[eventType], s)
	eb.workers.Add(1)
	go eb.drain(s)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from eventType. Events already
// queued for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[eventType]
	kept := subs[:0:0]
	for _, s := range subs {
		if s.name == name {
			close(s.queue)
			continue
		}
		kept = append(kept, s)
	}
	eb.subs[eventType] = kept

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// drain runs s's handler for each queued event until its queue closes.
func (eb *EventBus) drain(s *subscriber) {
	defer eb.workers.Done()
	for qe := range s.queue {
		eb.invoke(qe.ctx, s.name, s.handler, qe.event)
		eb.wg.Done()
	}
}

// invoke runs one handler, recovering panics and logging errors.
func (eb *EventBus) invoke(ctx context.Context, name string, handler HandlerFunc, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Emit queues event for every subscriber of its type and returns at once.
// A subscriber whose queue is full misses the event. A nil bus drops the
// event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	subs := eb.subs[event.Type]
	if len(subs) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emitting event")

	for _, s := range subs {
		eb.wg.Add(1)
		select {
		case s.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			eb.wg.Done()
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Warn().
					Str("event", string(event.Type)).
					Str("handler", s.name).
					Uint64("dropped", n).
					Msg("event queue full, dropping events")
			}
		}
	}
}

// EmitSync runs every handler for event in the caller's goroutine, in
// subscription order, and returns the first error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if eb == nil {
		return nil
	}
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	subs := append([]*subscriber(nil), eb.subs[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	for _, s := range subs {
		if err := eb.invoke(ctx, s.name, s.handler, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop stops accepting events, delivers everything already queued and
// waits for the subscriber goroutines to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	for _, subs := range eb.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	eb.subs = make(map[EventType][]*subscriber)
	eb.mu.Unlock()

	eb.workers.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers subscribed to eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

// Dropped returns how many events were dropped for the named handler of
// eventType.
func (eb *EventBus) Dropped(eventType EventType, name string) uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, s := range eb.subs[eventType] {
		if s.name == name {
			return s.dropped.Load()
		}
	}
	return 0
}

// Wait blocks until every event queued by Emit so far has been handled.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// Publish is shorthand for Emit with a background context.
func (eb *EventBus) Publish(eventType EventType, source string, payload interface{}) {
	eb.Emit(context.Background(), Event{Type: eventType, Source: source, Payload: payload})
}
