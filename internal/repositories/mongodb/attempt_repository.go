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
)

type attemptRepository struct {
	collection *mongo.Collection
}

func NewAttemptRepository(db *mongo.Database) interfaces.AttemptRepository {
	return &attemptRepository{
		collection: db.Collection(database.AttemptsCollection),
	}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.NotificationAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	attempt.UpdatedAt = attempt.CreatedAt

	_, err := r.collection.InsertOne(ctx, attempt)
	if err != nil {
		return fmt.Errorf("failed to create notification attempt: %w", err)
	}

	return nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id string) (*models.NotificationAttempt, error) {
	var attempt models.NotificationAttempt
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&attempt)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("notification attempt %s: %w", id, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification attempt: %w", err)
	}

	return &attempt, nil
}

func (r *attemptRepository) UpdateStatus(ctx context.Context, id string, status models.AttemptStatus, reason, messageID string) error {
	updates := bson.M{
		"status":     status,
		"reason":     reason,
		"updated_at": time.Now(),
	}
	if messageID != "" {
		updates["message_id"] = messageID
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	if err != nil {
		return fmt.Errorf("failed to update notification attempt: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("notification attempt %s: %w", id, utils.ErrNotFound)
	}

	return nil
}

func (r *attemptRepository) CountByCampaign(ctx context.Context, campaignID primitive.ObjectID) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"campaign_id": campaignID})
	if err != nil {
		return 0, fmt.Errorf("failed to count campaign attempts: %w", err)
	}

	return count, nil
}

func (r *attemptRepository) CountByCampaignAndDevice(ctx context.Context, campaignID, deviceID primitive.ObjectID) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"campaign_id": campaignID,
		"device_id":   deviceID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count device attempts: %w", err)
	}

	return count, nil
}
