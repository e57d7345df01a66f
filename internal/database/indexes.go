package database

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	if err := createSessionIndexes(ctx, db); err != nil {
		return err
	}

	if err := createScheduleIndexes(ctx, db); err != nil {
		return err
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createSessionIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionSessions)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "metadata.created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_status_created_at"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created sessions indexes")
	return nil
}

func createScheduleIndexes(ctx context.Context, db *MongoDB) error {
	collection := db.GetCollection(CollectionSchedules)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("idx_session_id"),
		},
		{
			Keys: bson.D{
				{Key: "is_active", Value: 1},
				{Key: "next_run", Value: 1},
			},
			Options: options.Index().SetName("idx_is_active_next_run"),
		},
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	if err != nil {
		return err
	}

	slog.Info("Created schedules indexes")
	return nil
}
