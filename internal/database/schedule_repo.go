package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rsilveira/streamcast/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrScheduleNotFound is returned when a schedule document does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// ScheduleRepository handles schedule document operations
type ScheduleRepository struct {
	collection *mongo.Collection
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *MongoDB) *ScheduleRepository {
	return &ScheduleRepository{
		collection: db.GetCollection(CollectionSchedules),
	}
}

// Create inserts a new schedule
func (r *ScheduleRepository) Create(ctx context.Context, schedule *model.Schedule) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if schedule.ID.IsZero() {
		schedule.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, schedule); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// GetByID retrieves a schedule by ID
func (r *ScheduleRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Schedule, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var schedule model.Schedule
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&schedule)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &schedule, nil
}

// ListActive retrieves active schedules ordered by next run.
func (r *ScheduleRepository) ListActive(ctx context.Context) ([]model.Schedule, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "next_run", Value: 1}})

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var schedules []model.Schedule
	if err := cursor.All(ctxTimeout, &schedules); err != nil {
		return nil, fmt.Errorf("failed to decode schedules: %w", err)
	}

	return schedules, nil
}

// ListPending retrieves active schedules whose next run is still in the future.
// Used to rebuild the in-memory trigger registry on startup.
func (r *ScheduleRepository) ListPending(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"is_active": true,
		"next_run":  bson.M{"$gt": now},
	}

	cursor, err := r.collection.Find(ctxTimeout, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending schedules: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var schedules []model.Schedule
	if err := cursor.All(ctxTimeout, &schedules); err != nil {
		return nil, fmt.Errorf("failed to decode pending schedules: %w", err)
	}

	return schedules, nil
}

// FindDueForRecovery retrieves active schedules whose next_run fell inside
// [from, to] while their session is still inactive — fire times that passed
// without effect, typically because in-memory triggers were lost to a restart.
func (r *ScheduleRepository) FindDueForRecovery(ctx context.Context, from, to time.Time) ([]model.Schedule, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"is_active": true,
			"next_run":  bson.M{"$gte": from, "$lte": to},
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         CollectionSessions,
			"localField":   "session_id",
			"foreignField": "_id",
			"as":           "session",
		}}},
		{{Key: "$unwind", Value: "$session"}},
		{{Key: "$match", Value: bson.M{
			"session.status": model.StatusInactive,
		}}},
		{{Key: "$project", Value: bson.M{"session": 0}}},
	}

	cursor, err := r.collection.Aggregate(ctxTimeout, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find schedules due for recovery: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var schedules []model.Schedule
	if err := cursor.All(ctxTimeout, &schedules); err != nil {
		return nil, fmt.Errorf("failed to decode recovery schedules: %w", err)
	}

	return schedules, nil
}

// UpdateLastRun persists the last start firing timestamp.
func (r *ScheduleRepository) UpdateLastRun(ctx context.Context, id primitive.ObjectID, lastRun time.Time) error {
	return r.setFields(ctx, id, bson.M{"last_run": lastRun})
}

// UpdateNextRun persists the next start fire time. For daily schedules this
// must complete before the trigger pair is re-registered.
func (r *ScheduleRepository) UpdateNextRun(ctx context.Context, id primitive.ObjectID, nextRun time.Time) error {
	return r.setFields(ctx, id, bson.M{"next_run": nextRun})
}

// Deactivate marks a schedule as no longer eligible for start firings.
func (r *ScheduleRepository) Deactivate(ctx context.Context, id primitive.ObjectID) error {
	return r.setFields(ctx, id, bson.M{"is_active": false})
}

// Update replaces the timing fields of a schedule and returns the new document.
func (r *ScheduleRepository) Update(ctx context.Context, id primitive.ObjectID, start, end time.Time, timezone string, nextRun time.Time) (*model.Schedule, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var schedule model.Schedule
	err := r.collection.FindOneAndUpdate(ctxTimeout,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"start_datetime":      start,
			"end_datetime":        end,
			"timezone":            timezone,
			"next_run":            nextRun,
			"metadata.updated_at": time.Now().UTC(),
		}},
		opts,
	).Decode(&schedule)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	return &schedule, nil
}

// Delete deletes a schedule document.
func (r *ScheduleRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// DeleteBySession deletes all schedules referencing a session and returns their
// IDs so the caller can cancel any live triggers.
func (r *ScheduleRepository) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) ([]primitive.ObjectID, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := r.collection.Find(ctxTimeout, bson.M{"session_id": sessionID},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find schedules for session: %w", err)
	}

	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctxTimeout, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode schedule ids: %w", err)
	}

	if _, err := r.collection.DeleteMany(ctxTimeout, bson.M{"session_id": sessionID}); err != nil {
		return nil, fmt.Errorf("failed to delete schedules for session: %w", err)
	}

	ids := make([]primitive.ObjectID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (r *ScheduleRepository) setFields(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields["metadata.updated_at"] = time.Now().UTC()

	result, err := r.collection.UpdateOne(ctxTimeout, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrScheduleNotFound
	}

	return nil
}
