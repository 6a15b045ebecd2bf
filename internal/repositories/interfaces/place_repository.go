package interfaces

import (
	"context"

	"geoengage/internal/models"
	"geoengage/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PlaceRepository interface {
	Create(ctx context.Context, place *models.Place) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Place, error)
	UpdateVisit(ctx context.Context, place *models.Place) error
	FindByDevice(ctx context.Context, deviceID primitive.ObjectID) ([]*models.Place, error)

	// Assignments
	CreateAssignments(ctx context.Context, assignments []*models.PlaceAssignment) error
	GetAssignmentsByPlace(ctx context.Context, placeID primitive.ObjectID) ([]*models.PlaceAssignment, error)

	// Reporting
	Find(ctx context.Context, filter *models.PlaceFilter, params *utils.PaginationParams) ([]*models.Place, int64, error)
	CountNear(ctx context.Context, lat, lng, radiusMeters float64) (int64, error)
}
