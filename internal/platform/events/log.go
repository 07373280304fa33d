package events

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// LogPublisher writes events to the structured log. It is the default when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a log-only publisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event envelope.
func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	p.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.Any("data", event.Data),
	)
	return nil
}
