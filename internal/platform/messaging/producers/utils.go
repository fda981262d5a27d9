package producers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/segmentio/kafka-go"
)

const (
	topicReadAttempts = 5
	topicReadBackoff  = 2 * time.Second
)

// topicAdmin is the subset of kafka.Conn used to provision topics
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

// provisionTopic dials the first broker and makes sure topic exists with the
// configured partitioning
func provisionTopic(ctx context.Context, cfg *config.KafkaConfig, topic string, log *slog.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokers(cfg)[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	err = ensureTopic(conn, kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}, topicReadBackoff, log)
	if err != nil {
		return fmt.Errorf("failed to ensure topic %s exists: %w", topic, err)
	}
	return nil
}

// brokers splits the comma separated broker list, dropping blanks
func brokers(cfg *config.KafkaConfig) []string {
	var addrs []string
	for _, addr := range strings.Split(cfg.Brokers, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return []string{cfg.Brokers}
	}
	return addrs
}

func ensureTopic(conn topicAdmin, topic kafka.TopicConfig, backoff time.Duration, log *slog.Logger) error {
	var partitions []kafka.Partition
	var err error

	for attempt := 1; attempt <= topicReadAttempts; attempt++ {
		partitions, err = conn.ReadPartitions(topic.Topic)
		if err == nil {
			break
		}
		log.Warn("Failed to read partitions, retrying...", "topic", topic.Topic, "attempt", attempt, "error", err)
		time.Sleep(backoff)
	}

	if len(partitions) > 0 {
		log.Info("Kafka topic already exists", "topic", topic.Topic, "partitions", len(partitions))
		return nil
	}

	if topic.NumPartitions <= 0 {
		topic.NumPartitions = 1
	}
	if topic.ReplicationFactor <= 0 {
		topic.ReplicationFactor = 1
	}

	log.Info("Creating Kafka topic",
		"topic", topic.Topic,
		"partitions", topic.NumPartitions,
		"replication_factor", topic.ReplicationFactor,
		"last_read_error", err,
	)
	if err := conn.CreateTopics(topic); err != nil {
		return fmt.Errorf("failed to create kafka topic %s: %w", topic.Topic, err)
	}
	return nil
}
