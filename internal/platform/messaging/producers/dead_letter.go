package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/segmentio/kafka-go"
)

// ErrDLQDisabled is returned by a producer built without a DLQ topic
var ErrDLQDisabled = errors.New("DLQ producer not initialized")

const (
	headerDLQReason = "dlq-reason"
	headerDLQSource = "dlq-source"
)

// DeadLetter describes a record an automated path gave up on
type DeadLetter struct {
	Key       string          `json:"key"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// DLQProducer raises operator alerts on a dedicated topic. A nil *DLQProducer
// is a valid disabled producer.
type DLQProducer struct {
	logger   *slog.Logger
	writer   KafkaWriter
	dlqTopic string
}

// NewDLQProducer returns a nil producer when no DLQ topic is configured.
// Alerts are written synchronously and must be acknowledged by every replica.
func NewDLQProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*DLQProducer, error) {
	if cfg.DLQTopic == "" {
		logger.Info("DLQ topic is not configured, operator alerts are disabled")
		return nil, nil
	}

	if err := provisionTopic(ctx, cfg, cfg.DLQTopic, logger); err != nil {
		return nil, fmt.Errorf("dlq producer: %w", err)
	}

	return &DLQProducer{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers(cfg)...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.MaxWait,
		},
		dlqTopic: cfg.DLQTopic,
	}, nil
}

// PublishToDLQ writes the letter synchronously; an alert that was not
// acknowledged is reported to the caller
func (p *DLQProducer) PublishToDLQ(ctx context.Context, letter DeadLetter) error {
	if p == nil || p.writer == nil {
		return ErrDLQDisabled
	}

	if letter.Timestamp.IsZero() {
		letter.Timestamp = time.Now().UTC()
	}

	msg, err := letter.message()
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to raise operator alert", "topic", p.dlqTopic, "key", letter.Key, "source", letter.Source, "error", err)
		return fmt.Errorf("failed to publish to DLQ %s: %w", p.dlqTopic, err)
	}

	p.logger.Warn("Raised operator alert",
		"topic", p.dlqTopic,
		"key", letter.Key,
		"source", letter.Source,
		"reason", letter.Reason,
		"attempts", letter.Attempts,
	)
	return nil
}

func (l DeadLetter) message() (kafka.Message, error) {
	value, err := json.Marshal(l)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return kafka.Message{
		Key:   []byte(l.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerDLQReason, Value: []byte(l.Reason)},
			{Key: headerDLQSource, Value: []byte(l.Source)},
		},
	}, nil
}

func (p *DLQProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing DLQ producer", "topic", p.dlqTopic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ writer for topic %s: %w", p.dlqTopic, err)
	}
	return nil
}
