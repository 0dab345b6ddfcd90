package eventbus

import (
	"context"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
)

// Handler consumes events of the types it is subscribed to.
// Name identifies the handler within one event type; subscribing two handlers
// with the same name is a no-op for the second.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event v1.DomainEvent) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, event v1.DomainEvent) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, event v1.DomainEvent) error {
	return h.fn(ctx, event)
}

// HandlerFunc adapts a function to Handler.
func HandlerFunc(name string, fn func(ctx context.Context, event v1.DomainEvent) error) Handler {
	return handlerFunc{name: name, fn: fn}
}
