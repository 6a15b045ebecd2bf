package interfaces

import (
	"context"

	"geoengage/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type GeoPositionRepository interface {
	Create(ctx context.Context, position *models.GeoPosition) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.GeoPosition, error)

	// Clustering
	FindUnclustered(ctx context.Context, deviceID primitive.ObjectID, limit int) ([]*models.GeoPosition, error)
	MarkClustered(ctx context.Context, ids []primitive.ObjectID) error
	DistinctUnclusteredDevices(ctx context.Context) ([]primitive.ObjectID, error)

	// Reporting
	CountNear(ctx context.Context, lat, lng, radiusMeters float64) (pings int64, devices int64, err error)
}
