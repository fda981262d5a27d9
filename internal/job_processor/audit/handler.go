// Package audit records the job lifecycle events published on Kafka into the
// MongoDB audit trail.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
)

const deadLetterSource = "job_event_audit"

var errMissingEventID = errors.New("event has no event_id")

// JobEventHandler stores job events consumed from Kafka
type JobEventHandler struct {
	events   event.Repository
	producer producers.DeadLetterPublisher
	logger   *slog.Logger
}

func NewJobEventHandler(
	logger *slog.Logger,
	events event.Repository,
	producer producers.DeadLetterPublisher,
) *JobEventHandler {
	return &JobEventHandler{
		events:   events,
		producer: producer,
		logger:   logger,
	}
}

// HandleMessage stores one event. Returning an error leaves the offset
// uncommitted so the message is read again.
func (h *JobEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var evt event.JobEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		return h.reject(ctx, key, value, err)
	}
	if evt.EventID == uuid.Nil {
		return h.reject(ctx, key, value, errMissingEventID)
	}

	logger := h.logger.With("job_id", evt.JobID.String(), "event_type", string(evt.Type))
	if evt.CorrelationID != "" {
		logger = logger.With("correlation_id", evt.CorrelationID)
	}

	if err := h.events.Create(ctx, &evt); err != nil {
		logger.Error("Failed to store job event", "event_id", evt.EventID.String(), "error", err)
		return fmt.Errorf("storing job event %s failed: %w", evt.EventID, err)
	}

	logger.Debug("Stored job event", "event_id", evt.EventID.String(), "status", evt.Status)
	return nil
}

// reject parks an unreadable message on the DLQ. Without a DLQ the error is
// returned and the consumer retries.
func (h *JobEventHandler) reject(ctx context.Context, key, value []byte, cause error) error {
	reason := "Failed to decode job event from Kafka message"
	h.logger.Error(reason, "error", cause, "message_key", string(key))

	if h.producer != nil {
		payload := json.RawMessage(value)
		if !json.Valid(value) {
			quoted, _ := json.Marshal(string(value))
			payload = quoted
		}

		dlqErr := h.producer.PublishToDLQ(ctx, producers.DeadLetter{
			Key:       string(key),
			Source:    deadLetterSource,
			Payload:   payload,
			Reason:    fmt.Sprintf("%s: %s", reason, cause.Error()),
			Timestamp: time.Now().UTC(),
		})
		if dlqErr == nil {
			h.logger.Info("Published undecodable job event to DLQ", "message_key", string(key))
			return nil
		}
		h.logger.Error("Failed to publish message to DLQ after decode error",
			"dlq_error", dlqErr,
			"original_error", cause,
			"message_key", string(key),
		)
	}
	return fmt.Errorf("failed to decode job event: %w", cause)
}
