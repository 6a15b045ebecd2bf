package interfaces

import (
	"context"
	"time"

	"geoengage/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Device, error)

	// UpdateOutcome records outcome unless the device already holds the
	// outcome of a newer attempt, in which case it is a no-op.
	UpdateOutcome(ctx context.Context, id primitive.ObjectID, outcome *models.DeliveryOutcome) error

	// FindByCompany pages through a company's devices ordered by id, starting
	// after afterID. A non-empty clientIDs restricts the page to those clients.
	FindByCompany(ctx context.Context, companyID primitive.ObjectID, clientIDs []string, afterID primitive.ObjectID, limit int) ([]*models.Device, error)
}

// DeviceWindowRepository keeps the per-device send history used by the
// sliding window ceilings.
type DeviceWindowRepository interface {
	Record(ctx context.Context, deviceID primitive.ObjectID, attemptID string, at time.Time) error
	Count(ctx context.Context, deviceID primitive.ObjectID, from, to time.Time) (int64, error)
}
