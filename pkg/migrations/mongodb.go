package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoIndexes maps a collection name to the indexes it must carry.
type MongoIndexes map[string][]mongo.IndexModel

// ArchiveIndexes are the indexes of the execution and enrollment archive collections.
func ArchiveIndexes(executions, enrollments string) MongoIndexes {
	return MongoIndexes{
		executions: {
			{
				Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "completed_at", Value: -1}},
				Options: options.Index().SetName("idx_execution_archive_rule_completed"),
			},
			{
				Keys:    bson.D{{Key: "target_type", Value: 1}, {Key: "target_id", Value: 1}},
				Options: options.Index().SetName("idx_execution_archive_target"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: -1}},
				Options: options.Index().SetName("idx_execution_archive_status_completed"),
			},
			{
				Keys:    bson.D{{Key: "execution_id", Value: 1}},
				Options: options.Index().SetName("uq_execution_archive_execution_id").SetUnique(true),
			},
		},
		enrollments: {
			{
				Keys:    bson.D{{Key: "enrollment_id", Value: 1}, {Key: "recorded_at", Value: 1}},
				Options: options.Index().SetName("idx_enrollment_archive_enrollment_recorded"),
			},
			{
				Keys:    bson.D{{Key: "sequence_id", Value: 1}, {Key: "recorded_at", Value: -1}},
				Options: options.Index().SetName("idx_enrollment_archive_sequence_recorded"),
			},
		},
	}
}

// EnsureMongoIndexes creates the given indexes. Collections are created on first insert.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, indexes MongoIndexes) error {
	for name, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := db.Collection(name).Indexes().CreateMany(ctx, models)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}
