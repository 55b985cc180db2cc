// Package eventbridge publishes domain events to an Amazon EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"thinknet-backend/internal/infrastructure/messaging"
)

// maxBatchSize is the PutEvents entry limit.
const maxBatchSize = 10

// API is the subset of the EventBridge client used by the publisher.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements messaging.Publisher on top of PutEvents.
type Publisher struct {
	client   API
	eventBus string
	source   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewPublisher creates a publisher for eventBus.
func NewPublisher(client API, eventBus, source string, logger *zap.Logger) *Publisher {
	if eventBus == "" {
		eventBus = "default"
	}
	if source == "" {
		source = "thinknet.mindmap"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:   client,
		eventBus: eventBus,
		source:   source,
		logger:   logger,
		now:      time.Now,
	}
}

var _ messaging.Publisher = (*Publisher)(nil)

// Publish sends events in batches of at most ten.
func (p *Publisher) Publish(ctx context.Context, events ...messaging.Event) error {
	for start := 0; start < len(events); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := p.publishBatch(ctx, events[start:end]); err != nil {
			return fmt.Errorf("failed to publish event batch: %w", err)
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, events []messaging.Event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(events))
	for _, event := range events {
		detail, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", event.EventType(), err)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBus),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.EventType()),
			Detail:       aws.String(string(detail)),
			Resources:    []string{event.AggregateID()},
			Time:         aws.Time(p.now()),
		})
	}

	output, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to put events: %w", err)
	}

	if output.FailedEntryCount > 0 {
		for i, entry := range output.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("EventBridge rejected event",
					zap.Int("index", i),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", output.FailedEntryCount)
	}

	p.logger.Debug("Published events",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBus),
	)
	return nil
}
