// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events of one type. Handlers run on the bus goroutine
// and should not block.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}

// Nop discards every event. It stands in when no bus is configured.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
