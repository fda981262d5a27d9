package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/reelforge-backend/internal/domain/event"
)

const (
	// JobEventCollectionName is the name of the job audit collection in MongoDB
	JobEventCollectionName = "job_events"
)

var _ event.Repository = (*JobEventRepository)(nil)

// JobEventRepository implements the event.Repository interface for MongoDB
type JobEventRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewJobEventRepository creates a new MongoDB job event repository
func NewJobEventRepository(logger *slog.Logger, db *mongo.Database) *JobEventRepository {
	return &JobEventRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique event index and the timeline index.
func (r *JobEventRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(JobEventCollectionName)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create job event indexes: %w", err)
	}
	return nil
}

// Create stores an event. Redelivered events with a known event_id are ignored.
func (r *JobEventRepository) Create(ctx context.Context, evt *event.JobEvent) error {
	collection := r.db.Collection(JobEventCollectionName)

	filter := bson.M{"event_id": evt.EventID}
	update := bson.M{"$setOnInsert": evt}
	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		r.logger.Error("Failed to store job event",
			"event_id", evt.EventID.String(),
			"job_id", evt.JobID.String(),
			"error", err)
		return fmt.Errorf("failed to store job event: %w", err)
	}

	return nil
}

// GetByJobID returns a job's timeline in chronological order.
func (r *JobEventRepository) GetByJobID(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*event.JobEvent, error) {
	collection := r.db.Collection(JobEventCollectionName)

	filter := bson.M{"job_id": jobID}
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to find job events", "job_id", jobID.String(), "error", err)
		return nil, fmt.Errorf("failed to find job events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*event.JobEvent
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode job events", "job_id", jobID.String(), "error", err)
		return nil, fmt.Errorf("failed to decode job events: %w", err)
	}

	return events, nil
}
