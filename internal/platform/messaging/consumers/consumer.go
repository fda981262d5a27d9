package consumers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one record. A returned error makes the consumer
// retry the record before giving up on it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// defaultHandleAttempts bounds how often one record is offered to the handler
// so a poison record cannot stall its partition
const defaultHandleAttempts = 3

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// KafkaReader wraps kafka.Reader methods for testing
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads the job events topic in a consumer group, committing
// offsets by hand once a record has been dealt with
type KafkaConsumer struct {
	reader         KafkaReader
	logger         *slog.Logger
	topic          string
	groupID        string
	retryDelay     time.Duration
	handleAttempts int
}

func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	startOffset := cfg.StartOffset
	if startOffset == 0 {
		startOffset = kafka.FirstOffset
	}

	return &KafkaConsumer{
		logger:         logger.With("topic", cfg.JobEventsTopic, "group_id", cfg.ConsumerGroup),
		topic:          cfg.JobEventsTopic,
		groupID:        cfg.ConsumerGroup,
		retryDelay:     time.Second,
		handleAttempts: defaultHandleAttempts,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     strings.Split(cfg.Brokers, ","),
			Topic:       cfg.JobEventsTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts consuming in the background until ctx is cancelled
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic")
	go c.consume(ctx, handler)
	return nil
}

func (c *KafkaConsumer) consume(ctx context.Context, handler MessageHandler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Context canceled, stopping consumer")
				return
			}
			c.logger.Error("Failed to fetch message from Kafka", "error", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		if !c.handle(ctx, handler, msg) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit offset",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle offers msg to the handler up to handleAttempts times. It reports
// false only when ctx ended before the record was dealt with.
func (c *KafkaConsumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	attempts := c.handleAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log := c.logger.With(
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"attempt", attempt,
			"error", err,
		)
		if attempt >= attempts {
			log.Error("Giving up on message, committing past it")
			return true
		}
		log.Warn("Failed to process message, retrying")
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *KafkaConsumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
