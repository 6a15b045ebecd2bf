package interfaces

import (
	"context"

	"geoengage/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type StoreRepository interface {
	Create(ctx context.Context, store *models.Store) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Store, error)

	// FindNear returns stores within maxMeters of the point, nearest first.
	FindNear(ctx context.Context, lat, lng, maxMeters float64) ([]*models.StoreDistance, error)
}
