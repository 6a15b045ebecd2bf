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

type storeRepository struct {
	collection *mongo.Collection
}

func NewStoreRepository(db *mongo.Database) interfaces.StoreRepository {
	return &storeRepository{
		collection: db.Collection(database.StoresCollection),
	}
}

func (r *storeRepository) Create(ctx context.Context, store *models.Store) error {
	if store.ID.IsZero() {
		store.ID = primitive.NewObjectID()
	}
	store.CreatedAt = time.Now()
	store.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	return nil
}

func (r *storeRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Store, error) {
	var store models.Store
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&store)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("store %s: %w", id.Hex(), utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	return &store, nil
}

type storeWithDistance struct {
	models.Store   `bson:",inline"`
	DistanceMeters float64 `bson:"distance_meters"`
}

func (r *storeRepository) FindNear(ctx context.Context, lat, lng, maxMeters float64) ([]*models.StoreDistance, error) {
	pipeline := []bson.M{
		{
			"$geoNear": bson.M{
				"near": bson.M{
					"type":        "Point",
					"coordinates": []float64{lng, lat},
				},
				"distanceField": "distance_meters",
				"maxDistance":   maxMeters,
				"spherical":     true,
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find stores near point: %w", err)
	}
	defer cursor.Close(ctx)

	var stores []*models.StoreDistance
	for cursor.Next(ctx) {
		var result storeWithDistance
		if err := cursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode store: %w", err)
		}
		store := result.Store
		stores = append(stores, &models.StoreDistance{
			Store:          &store,
			DistanceMeters: result.DistanceMeters,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stores: %w", err)
	}

	return stores, nil
}
