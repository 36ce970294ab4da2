// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("event channel full")
)

// DefaultBufferSize is used when NewBus gets a non-positive size.
const DefaultBufferSize = 256

// Publisher is the side of the bus the ledger and validator see.
type Publisher interface {
	Publish(event Event) error
}

// Bus is an in-memory event bus. Publish never blocks the caller: ledger
// writes must not wait on slow subscribers.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[EventType]map[string]Handler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	eventChan chan Event
	dropped   int
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:  make(map[EventType]map[string]Handler),
		logger:    logger.Named("event_bus"),
		ctx:       ctx,
		cancel:    cancel,
		eventChan: make(chan Event, bufferSize),
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{id: id, eventBus: b, typ: eventType}
}

// SubscribeFunc subscribes a plain function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues an event for asynchronous delivery. A full buffer drops the
// event and returns ErrBufferFull.
func (b *Bus) Publish(event Event) error {
	if b.ctx.Err() != nil {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBufferFull
	}
}

// PublishSync delivers an event to every handler on the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make(map[string]Handler, len(b.handlers[event.Type()]))
	for id, h := range b.handlers[event.Type()] {
		handlers[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("handler %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// dispatch delivers queued events in publish order until shutdown, then
// drains what is left.
func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus stopped", zap.Int("dropped", b.Dropped()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Dropped returns the number of events lost to a full buffer.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return len(b.eventChan)
}
