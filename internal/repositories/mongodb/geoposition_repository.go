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

type geoPositionRepository struct {
	collection *mongo.Collection
}

func NewGeoPositionRepository(db *mongo.Database) interfaces.GeoPositionRepository {
	return &geoPositionRepository{
		collection: db.Collection(database.GeoPositionsCollection),
	}
}

func (r *geoPositionRepository) Create(ctx context.Context, position *models.GeoPosition) error {
	position.ID = primitive.NewObjectID()
	position.Location = models.NewLocation(position.Latitude, position.Longitude)
	position.Clustered = false
	position.CreatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, position)
	if err != nil {
		return fmt.Errorf("failed to create geoposition: %w", err)
	}

	return nil
}

func (r *geoPositionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.GeoPosition, error) {
	var position models.GeoPosition
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&position)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("geoposition %s: %w", id.Hex(), utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get geoposition: %w", err)
	}

	return &position, nil
}

// FindUnclustered returns up to limit pending pings of the device in capture
// order. Pings sharing a timestamp are ordered by id.
func (r *geoPositionRepository) FindUnclustered(ctx context.Context, deviceID primitive.ObjectID, limit int) ([]*models.GeoPosition, error) {
	filter := bson.M{
		"device_id": deviceID,
		"clustered": false,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "captured_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find unclustered geopositions: %w", err)
	}
	defer cursor.Close(ctx)

	var positions []*models.GeoPosition
	for cursor.Next(ctx) {
		var position models.GeoPosition
		if err := cursor.Decode(&position); err != nil {
			return nil, fmt.Errorf("failed to decode geoposition: %w", err)
		}
		positions = append(positions, &position)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate geopositions: %w", err)
	}

	return positions, nil
}

func (r *geoPositionRepository) MarkClustered(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.collection.UpdateMany(
		ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"clustered": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark geopositions clustered: %w", err)
	}

	return nil
}

func (r *geoPositionRepository) DistinctUnclusteredDevices(ctx context.Context) ([]primitive.ObjectID, error) {
	values, err := r.collection.Distinct(ctx, "device_id", bson.M{"clustered": false})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices with unclustered geopositions: %w", err)
	}

	deviceIDs := make([]primitive.ObjectID, 0, len(values))
	for _, value := range values {
		if id, ok := value.(primitive.ObjectID); ok {
			deviceIDs = append(deviceIDs, id)
		}
	}

	return deviceIDs, nil
}

func (r *geoPositionRepository) CountNear(ctx context.Context, lat, lng, radiusMeters float64) (int64, int64, error) {
	filter := withinRadius(lat, lng, radiusMeters)

	pings, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count geopositions near point: %w", err)
	}

	devices, err := r.collection.Distinct(ctx, "device_id", filter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count devices near point: %w", err)
	}

	return pings, int64(len(devices)), nil
}
