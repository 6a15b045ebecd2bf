package interfaces

import (
	"context"

	"geoengage/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.NotificationAttempt) error
	GetByID(ctx context.Context, id string) (*models.NotificationAttempt, error)
	UpdateStatus(ctx context.Context, id string, status models.AttemptStatus, reason, messageID string) error

	// Ceiling counters
	CountByCampaign(ctx context.Context, campaignID primitive.ObjectID) (int64, error)
	CountByCampaignAndDevice(ctx context.Context, campaignID, deviceID primitive.ObjectID) (int64, error)
}

type DeferredActionRepository interface {
	Enqueue(ctx context.Context, action *models.DeferredAction) error
	FindPending(ctx context.Context, limit int) ([]*models.DeferredAction, error)
	MarkProcessed(ctx context.Context, id primitive.ObjectID) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error
}
