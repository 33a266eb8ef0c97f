package notification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"orgdir.io/orgdir/internal/domain"
	"orgdir.io/orgdir/internal/pkg/logger"
)

// Handler consumes one message.
type Handler func(ctx context.Context, msg Message) error

// AnyEntity registers a handler for every entity type.
const AnyEntity domain.EntityType = "*"

// Dispatcher routes messages to the handlers registered for their entity type.
type Dispatcher struct {
	handlers map[domain.EntityType][]Handler
	mu       sync.RWMutex
	log      *zap.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.EntityType][]Handler),
		log:      logger.Named("notification"),
	}
}

// Register adds a handler for entityType, or for every type with AnyEntity.
func (d *Dispatcher) Register(entityType domain.EntityType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[entityType] = append(d.handlers[entityType], h)
}

// Dispatch calls every matching handler in registration order, type-specific
// handlers first. A failing handler does not stop the others; the first
// error is returned so the job is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.mu.RLock()
	handlers := append(append([]Handler(nil), d.handlers[msg.EntityType]...), d.handlers[AnyEntity]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.log.Warn("no handlers registered",
			zap.String("entity_type", string(msg.EntityType)),
			zap.String("command", string(msg.Command)),
		)
		return nil
	}

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			d.log.Error("notification handler failed",
				zap.String("entity_type", string(msg.EntityType)),
				zap.String("entity_id", msg.EntityID),
				zap.String("command", string(msg.Command)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s %s failed: %w", msg.EntityType, msg.Command, err)
			}
		}
	}
	return firstErr
}

// LogHandler writes each message to log at Info.
func LogHandler(log *zap.Logger) Handler {
	return func(_ context.Context, msg Message) error {
		attrs := msg.Attributes()
		log.Info("event committed",
			zap.String(AttrCommand, attrs[AttrCommand]),
			zap.String(AttrEntityType, attrs[AttrEntityType]),
			zap.String(AttrEntityID, attrs[AttrEntityID]),
			zap.String(AttrUserID, attrs[AttrUserID]),
			zap.Time("date", msg.Date),
		)
		return nil
	}
}
