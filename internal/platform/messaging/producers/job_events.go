package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/segmentio/kafka-go"
)

// JobEventProducer writes job lifecycle events keyed by job id, so one job's
// events stay ordered within a partition
type JobEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewJobEventProducer ensures the events topic exists and returns an async producer
func NewJobEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*JobEventProducer, error) {
	if cfg.JobEventsTopic == "" {
		return nil, fmt.Errorf("kafka job events topic is not configured")
	}

	if err := provisionTopic(ctx, cfg, cfg.JobEventsTopic, logger); err != nil {
		return nil, fmt.Errorf("job event producer: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.JobEventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write job events asynchronously", "topic", cfg.JobEventsTopic, "error", err, "count", len(messages))
			}
		},
	}

	return &JobEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.JobEventsTopic,
	}, nil
}

func (p *JobEventProducer) PublishJobEvent(ctx context.Context, evt *event.JobEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.JobID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish job event",
			"topic", p.topic,
			"job_id", evt.JobID.String(),
			"type", string(evt.Type),
			"error", err,
		)
		return fmt.Errorf("failed to publish job event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published job event", "topic", p.topic, "job_id", evt.JobID.String(), "type", string(evt.Type))
	return nil
}

func (p *JobEventProducer) Close() error {
	p.logger.Info("Closing job event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close job event writer for topic %s: %w", p.topic, err)
	}
	return nil
}
