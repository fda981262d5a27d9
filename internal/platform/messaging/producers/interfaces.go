package producers

import (
	"context"

	"github.com/reelforge-backend/internal/domain/event"
	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes job lifecycle events
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, evt *event.JobEvent) error
	Close() error
}

// DeadLetterPublisher publishes records that need an operator
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, letter DeadLetter) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
