// Package messaging publishes domain events to the outside world.
package messaging

import (
	"context"

	"go.uber.org/zap"
)

// Event is a domain event that can be published.
type Event interface {
	EventType() string
	AggregateID() string
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// LogPublisher writes events to the log instead of a bus. It is used when
// event publishing is disabled.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		p.logger.Debug("Domain event",
			zap.String("eventType", e.EventType()),
			zap.String("aggregateID", e.AggregateID()),
		)
	}
	return nil
}
