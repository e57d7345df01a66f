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

// ErrSessionNotFound is returned when a session document does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository handles session document operations
type SessionRepository struct {
	collection *mongo.Collection
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *MongoDB) *SessionRepository {
	return &SessionRepository{
		collection: db.GetCollection(CollectionSessions),
	}
}

// Create inserts a new session
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Session, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var session model.Session
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// List retrieves sessions, optionally filtered by status, newest first.
func (r *SessionRepository) List(ctx context.Context, status *model.SessionStatus) ([]model.Session, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{}
	if status != nil {
		filter["status"] = *status
	}

	opts := options.Find().SetSort(bson.D{{Key: "metadata.created_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var sessions []model.Session
	if err := cursor.All(ctxTimeout, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	return sessions, nil
}

// ClaimStart atomically flips a session from inactive to active. Returns false
// when the stored status is no longer inactive, meaning another caller won the
// transition. This conditional update is the only serialization point for
// concurrent start attempts.
func (r *SessionRepository) ClaimStart(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.UpdateOne(ctxTimeout,
		bson.M{"_id": id, "status": model.StatusInactive},
		bson.M{"$set": bson.M{
			"status":              model.StatusActive,
			"metadata.updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim session start: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// ReleaseStart reverts a claimed start after a process creation failure,
// leaving the session exactly as it was before the claim.
func (r *SessionRepository) ReleaseStart(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.UpdateOne(ctxTimeout,
		bson.M{"_id": id, "status": model.StatusActive},
		bson.M{"$set": bson.M{
			"status":              model.StatusInactive,
			"metadata.updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to release session start: %w", err)
	}

	return nil
}

// RecordProcess stores the process handle and start time for a session that was
// just transitioned to active.
func (r *SessionRepository) RecordProcess(ctx context.Context, id primitive.ObjectID, serviceName string, pid int, startedAt time.Time) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.UpdateOne(ctxTimeout,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"service_name":        serviceName,
			"pid":                 pid,
			"start_time":          startedAt,
			"metadata.updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to record process handle: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// ClaimStop atomically flips a session from active to inactive, clearing the
// process handle and setting the end time. Returns false when the stored status
// is no longer active.
func (r *SessionRepository) ClaimStop(ctx context.Context, id primitive.ObjectID, endedAt time.Time) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.UpdateOne(ctxTimeout,
		bson.M{"_id": id, "status": model.StatusActive},
		bson.M{
			"$set": bson.M{
				"status":              model.StatusInactive,
				"end_time":            endedAt,
				"metadata.updated_at": time.Now().UTC(),
			},
			"$unset": bson.M{
				"service_name": "",
				"pid":          "",
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim session stop: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// RestoreActive reverts a claimed stop after a process destroy failure,
// restoring the previous handle fields.
func (r *SessionRepository) RestoreActive(ctx context.Context, id primitive.ObjectID, serviceName string, pid int) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.collection.UpdateOne(ctxTimeout,
		bson.M{"_id": id, "status": model.StatusInactive},
		bson.M{
			"$set": bson.M{
				"status":              model.StatusActive,
				"service_name":        serviceName,
				"pid":                 pid,
				"metadata.updated_at": time.Now().UTC(),
			},
			"$unset": bson.M{"end_time": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to restore active session: %w", err)
	}

	return nil
}

// Update updates the mutable fields of an inactive session.
func (r *SessionRepository) Update(ctx context.Context, id primitive.ObjectID, streamKey, platform string) (*model.Session, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session model.Session
	err := r.collection.FindOneAndUpdate(ctxTimeout,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"stream_key":          streamKey,
			"platform":            platform,
			"metadata.updated_at": time.Now().UTC(),
		}},
		opts,
	).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return &session, nil
}

// Delete deletes a session document.
func (r *SessionRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}
