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

type campaignRepository struct {
	collection *mongo.Collection
}

func NewCampaignRepository(db *mongo.Database) interfaces.CampaignRepository {
	return &campaignRepository{
		collection: db.Collection(database.CampaignsCollection),
	}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID.IsZero() {
		campaign.ID = primitive.NewObjectID()
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, campaign)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&campaign)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("campaign %s: %w", id.Hex(), utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

func (r *campaignRepository) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to check campaign: %w", err)
	}

	return count > 0, nil
}

func (r *campaignRepository) UpdateState(ctx context.Context, id primitive.ObjectID, state models.CampaignState) error {
	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"state":      state,
			"updated_at": time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign state: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("campaign %s: %w", id.Hex(), utils.ErrNotFound)
	}

	return nil
}

func (r *campaignRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("campaign %s: %w", id.Hex(), utils.ErrNotFound)
	}

	return nil
}

func (r *campaignRepository) FindGeofenceByTargets(ctx context.Context, storeIDs, partnerIDs []primitive.ObjectID) ([]*models.Campaign, error) {
	var targets []bson.M
	if len(storeIDs) > 0 {
		targets = append(targets, bson.M{"store_ids": bson.M{"$in": storeIDs}})
	}
	if len(partnerIDs) > 0 {
		targets = append(targets, bson.M{"partner_ids": bson.M{"$in": partnerIDs}})
	}
	if len(targets) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"kind": models.CampaignKindGeofence,
		"$or":  targets,
	}

	// Ties on priority are broken by this order, so it must be stable.
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find geofence campaigns: %w", err)
	}
	defer cursor.Close(ctx)

	var campaigns []*models.Campaign
	if err := cursor.All(ctx, &campaigns); err != nil {
		return nil, fmt.Errorf("failed to decode campaigns: %w", err)
	}

	return campaigns, nil
}

func (r *campaignRepository) MaxGeofenceRadius(ctx context.Context) (float64, error) {
	filter := bson.M{
		"kind":  models.CampaignKindGeofence,
		"state": models.CampaignStateRunning,
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "radius_meters", Value: -1}}).
		SetProjection(bson.M{"radius_meters": 1})

	var campaign models.Campaign
	err := r.collection.FindOne(ctx, filter, opts).Decode(&campaign)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find largest geofence radius: %w", err)
	}

	return campaign.RadiusMeters, nil
}

func (r *campaignRepository) FindScheduled(ctx context.Context) ([]*models.Campaign, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"kind": models.CampaignKindScheduled}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled campaigns: %w", err)
	}
	defer cursor.Close(ctx)

	var campaigns []*models.Campaign
	if err := cursor.All(ctx, &campaigns); err != nil {
		return nil, fmt.Errorf("failed to decode campaigns: %w", err)
	}

	return campaigns, nil
}
