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

type deviceRepository struct {
	collection *mongo.Collection
}

func NewDeviceRepository(db *mongo.Database) interfaces.DeviceRepository {
	return &deviceRepository{
		collection: db.Collection(database.DevicesCollection),
	}
}

func (r *deviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID.IsZero() {
		device.ID = primitive.NewObjectID()
	}
	device.CreatedAt = time.Now()
	device.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, device)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Device, error) {
	var device models.Device
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&device)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("device %s: %w", id.Hex(), utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &device, nil
}

func (r *deviceRepository) UpdateOutcome(ctx context.Context, id primitive.ObjectID, outcome *models.DeliveryOutcome) error {
	filter := bson.M{
		"_id": id,
		"$or": []bson.M{
			{"last_outcome.attempt_created_at": bson.M{"$exists": false}},
			{"last_outcome.attempt_created_at": bson.M{"$lte": outcome.AttemptCreatedAt}},
		},
	}

	result, err := r.collection.UpdateOne(
		ctx,
		filter,
		bson.M{"$set": bson.M{
			"last_outcome": outcome,
			"updated_at":   time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update device outcome: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: either the device is gone or it holds a newer outcome.
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check device: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("device %s: %w", id.Hex(), utils.ErrNotFound)
	}

	return nil
}

func (r *deviceRepository) FindByCompany(ctx context.Context, companyID primitive.ObjectID, clientIDs []string, afterID primitive.ObjectID, limit int) ([]*models.Device, error) {
	filter := bson.M{"company_id": companyID}
	if !afterID.IsZero() {
		filter["_id"] = bson.M{"$gt": afterID}
	}
	if len(clientIDs) > 0 {
		filter["client_id"] = bson.M{"$in": clientIDs}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find company devices: %w", err)
	}
	defer cursor.Close(ctx)

	var devices []*models.Device
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}

	return devices, nil
}
