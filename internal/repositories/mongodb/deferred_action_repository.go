package mongodb

import (
	"context"
	"fmt"
	"time"

	"geoengage/internal/models"
	"geoengage/internal/repositories/interfaces"
	"geoengage/internal/utils"
	"geoengage/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type deferredActionRepository struct {
	collection *mongo.Collection
}

func NewDeferredActionRepository(db *mongo.Database) interfaces.DeferredActionRepository {
	return &deferredActionRepository{
		collection: db.Collection(database.DeferredActionsCollection),
	}
}

func (r *deferredActionRepository) Enqueue(ctx context.Context, action *models.DeferredAction) error {
	action.ID = primitive.NewObjectID()
	action.CreatedAt = time.Now()
	action.ProcessedAt = nil

	_, err := r.collection.InsertOne(ctx, action)
	if err != nil {
		return fmt.Errorf("failed to enqueue deferred action: %w", err)
	}

	return nil
}

// FindPending returns unprocessed actions, oldest first.
func (r *deferredActionRepository) FindPending(ctx context.Context, limit int) ([]*models.DeferredAction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"processed_at": bson.M{"$exists": false}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending deferred actions: %w", err)
	}
	defer cursor.Close(ctx)

	var actions []*models.DeferredAction
	if err := cursor.All(ctx, &actions); err != nil {
		return nil, fmt.Errorf("failed to decode deferred actions: %w", err)
	}

	return actions, nil
}

func (r *deferredActionRepository) MarkProcessed(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"processed_at": time.Now()},
			"$unset": bson.M{"last_error": ""},
			"$inc":   bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to mark deferred action processed: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("deferred action %s: %w", id.Hex(), utils.ErrNotFound)
	}

	return nil
}

func (r *deferredActionRepository) MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error {
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"last_error": reason},
			"$inc": bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to mark deferred action failed: %w", err)
	}

	return nil
}
