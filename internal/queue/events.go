package queue

import (
	"context"
	"fmt"

	"github.com/smukkama/climate-cache/internal/protocol"
	"github.com/smukkama/climate-cache/internal/refresh"
)

// publisher is the write side of a topic.
type publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// EventPublisher announces committed batches on the events topic.
type EventPublisher struct {
	producer publisher
}

// NewEventPublisher creates a publisher on top of a producer
func NewEventPublisher(producer publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBatchCompleted implements refresh.Publisher.
func (p *EventPublisher) PublishBatchCompleted(ctx context.Context, report *refresh.Report) error {
	event := &protocol.BatchCompletedEvent{
		BatchID:    report.BatchID.String(),
		RequestID:  report.RequestID,
		Cells:      report.Cells,
		Skipped:    report.Skipped,
		Fetched:    report.Fetched,
		Rows:       report.Rows,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}

	data, err := protocol.EncodeBatchCompleted(event)
	if err != nil {
		return fmt.Errorf("failed to encode batch completed event: %w", err)
	}
	return p.producer.Publish(ctx, event.BatchID, data)
}

// RequestQueue enqueues batch requests for the refresher.
type RequestQueue struct {
	producer publisher
}

// NewRequestQueue creates a queue on top of a producer
func NewRequestQueue(producer publisher) *RequestQueue {
	return &RequestQueue{producer: producer}
}

// Enqueue publishes a batch request keyed by its request id.
func (q *RequestQueue) Enqueue(ctx context.Context, msg *protocol.BatchRequestMessage) error {
	data, err := protocol.EncodeBatchRequest(msg)
	if err != nil {
		return fmt.Errorf("failed to encode batch request: %w", err)
	}
	return q.producer.Publish(ctx, msg.RequestID, data)
}
