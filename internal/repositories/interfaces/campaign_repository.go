package interfaces

import (
	"context"

	"geoengage/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
	UpdateState(ctx context.Context, id primitive.ObjectID, state models.CampaignState) error
	Delete(ctx context.Context, id primitive.ObjectID) error

	// FindGeofenceByTargets returns GEOFENCE campaigns referencing any of the
	// given stores or partners, ordered by id.
	FindGeofenceByTargets(ctx context.Context, storeIDs, partnerIDs []primitive.ObjectID) ([]*models.Campaign, error)

	// MaxGeofenceRadius returns the largest radius among RUNNING GEOFENCE
	// campaigns, or zero when there are none.
	MaxGeofenceRadius(ctx context.Context) (float64, error)

	FindScheduled(ctx context.Context) ([]*models.Campaign, error)
}
