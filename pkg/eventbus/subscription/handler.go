package subscription

import (
	"context"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/tracing"
	"go.uber.org/zap"
)

// Handler processes one envelope. It must be idempotent: the bus delivers at
// least once. event.IdempotencyKeyFrom(ctx) returns the key of the delivery.
//
// Return an *event.Error with a terminal reason to skip retries.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

// LoggingHandlerName is the subscriber name of the default handler.
const LoggingHandlerName = "logging"

// LoggingHandler logs every envelope at info level.
func LoggingHandler(log *zap.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, env event.Envelope) error {
		fields := []zap.Field{
			zap.Stringer("eventId", env.Event.EventID),
			zap.String("eventType", env.EventType()),
			zap.String("aggregateId", env.Event.AggregateID),
			zap.Time("emittedAt", env.EmittedAt),
		}
		if env.Event.CorrelationID != "" {
			fields = append(fields, zap.String("correlationId", env.Event.CorrelationID))
		}
		if env.Event.CausationID != "" {
			fields = append(fields, zap.String("causationId", env.Event.CausationID))
		}
		fields = append(fields, tracing.LogFields(ctx)...)
		log.Info("event received", fields...)
		return nil
	})
}
