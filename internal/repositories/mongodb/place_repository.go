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

type placeRepository struct {
	collection           *mongo.Collection
	assignmentCollection *mongo.Collection
}

func NewPlaceRepository(db *mongo.Database) interfaces.PlaceRepository {
	return &placeRepository{
		collection:           db.Collection(database.PlacesCollection),
		assignmentCollection: db.Collection(database.PlaceAssignmentsCollection),
	}
}

// Create inserts a place. An id already set by the caller is kept so that
// assignments built in the same pass can reference it.
func (r *placeRepository) Create(ctx context.Context, place *models.Place) error {
	if place.ID.IsZero() {
		place.ID = primitive.NewObjectID()
	}
	now := time.Now()
	place.Location = models.NewLocation(place.Latitude, place.Longitude)
	place.CreatedAt = now
	place.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, place)
	if err != nil {
		return fmt.Errorf("failed to create place: %w", err)
	}

	return nil
}

func (r *placeRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Place, error) {
	var place models.Place
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&place)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("place %s: %w", id.Hex(), utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get place: %w", err)
	}

	return &place, nil
}

// UpdateVisit persists a revisit. visit_count only moves forward.
func (r *placeRepository) UpdateVisit(ctx context.Context, place *models.Place) error {
	place.UpdatedAt = time.Now()

	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": place.ID, "visit_count": bson.M{"$lte": place.VisitCount}},
		bson.M{"$set": bson.M{
			"visit_count":     place.VisitCount,
			"last_visited_at": place.LastVisitedAt,
			"updated_at":      place.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update place visit: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("place %s: %w", place.ID.Hex(), utils.ErrNotFound)
	}

	return nil
}

func (r *placeRepository) FindByDevice(ctx context.Context, deviceID primitive.ObjectID) ([]*models.Place, error) {
	cursor, err := r.collection.Find(
		ctx,
		bson.M{"device_id": deviceID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find device places: %w", err)
	}
	defer cursor.Close(ctx)

	var places []*models.Place
	if err := cursor.All(ctx, &places); err != nil {
		return nil, fmt.Errorf("failed to decode places: %w", err)
	}

	return places, nil
}

func (r *placeRepository) CreateAssignments(ctx context.Context, assignments []*models.PlaceAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	now := time.Now()
	docs := make([]interface{}, len(assignments))
	for i, assignment := range assignments {
		assignment.ID = primitive.NewObjectID()
		assignment.CreatedAt = now
		docs[i] = assignment
	}

	_, err := r.assignmentCollection.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to create place assignments: %w", err)
	}

	return nil
}

func (r *placeRepository) GetAssignmentsByPlace(ctx context.Context, placeID primitive.ObjectID) ([]*models.PlaceAssignment, error) {
	cursor, err := r.assignmentCollection.Find(
		ctx,
		bson.M{"place_id": placeID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find place assignments: %w", err)
	}
	defer cursor.Close(ctx)

	var assignments []*models.PlaceAssignment
	if err := cursor.All(ctx, &assignments); err != nil {
		return nil, fmt.Errorf("failed to decode place assignments: %w", err)
	}

	return assignments, nil
}

func (r *placeRepository) Find(ctx context.Context, filter *models.PlaceFilter, params *utils.PaginationParams) ([]*models.Place, int64, error) {
	query := bson.M{}
	if filter != nil {
		if filter.DeviceID != nil {
			query["device_id"] = *filter.DeviceID
		}
		if filter.CompanyID != nil {
			query["company_id"] = *filter.CompanyID
		}
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count places: %w", err)
	}

	cursor, err := r.collection.Find(ctx, query, params.GetSortOptions())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find places: %w", err)
	}
	defer cursor.Close(ctx)

	var places []*models.Place
	for cursor.Next(ctx) {
		var place models.Place
		if err := cursor.Decode(&place); err != nil {
			return nil, 0, fmt.Errorf("failed to decode place: %w", err)
		}
		places = append(places, &place)
	}

	return places, total, nil
}

func (r *placeRepository) CountNear(ctx context.Context, lat, lng, radiusMeters float64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, withinRadius(lat, lng, radiusMeters))
	if err != nil {
		return 0, fmt.Errorf("failed to count places near point: %w", err)
	}

	return count, nil
}
