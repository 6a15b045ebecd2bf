package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Migration struct {
	Version     int
	Description string
	Up          func(*mongo.Database) error
	Down        func(*mongo.Database) error
}

type Migrator struct {
	db         *mongo.Database
	migrations []Migration
}

func NewMigrator(db *mongo.Database) *Migrator {
	return &Migrator{
		db:         db,
		migrations: getMigrations(),
	}
}

func (m *Migrator) Up() error {
	// Create migrations collection if it doesn't exist
	err := m.createMigrationsCollection()
	if err != nil {
		return err
	}

	// Get current version
	currentVersion, err := m.getCurrentVersion()
	if err != nil {
		return err
	}

	// Run migrations
	for _, migration := range m.migrations {
		if migration.Version > currentVersion {
			log.Printf("Running migration %d: %s", migration.Version, migration.Description)

			err := migration.Up(m.db)
			if err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			err = m.updateVersion(migration.Version)
			if err != nil {
				return fmt.Errorf("failed to update migration version: %w", err)
			}

			log.Printf("Migration %d completed successfully", migration.Version)
		}
	}

	return nil
}

// Down reverts every applied migration newer than targetVersion, newest
// first, recording the version each step leaves behind.
func (m *Migrator) Down(targetVersion int) error {
	if targetVersion < 0 {
		return fmt.Errorf("invalid target version %d", targetVersion)
	}

	currentVersion, err := m.getCurrentVersion()
	if err != nil {
		return err
	}

	for _, step := range m.rollbackSteps(currentVersion, targetVersion) {
		log.Printf("Reverting migration %d: %s", step.migration.Version, step.migration.Description)

		if err := step.migration.Down(m.db); err != nil {
			return fmt.Errorf("migration %d rollback failed: %w", step.migration.Version, err)
		}

		if err := m.updateVersion(step.leaves); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}

		log.Printf("Migration %d reverted successfully", step.migration.Version)
	}

	return nil
}

type rollbackStep struct {
	migration Migration
	leaves    int
}

func (m *Migrator) rollbackSteps(currentVersion, targetVersion int) []rollbackStep {
	var steps []rollbackStep
	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}

		leaves := targetVersion
		if i > 0 && m.migrations[i-1].Version > targetVersion {
			leaves = m.migrations[i-1].Version
		}
		steps = append(steps, rollbackStep{migration: migration, leaves: leaves})
	}
	return steps
}

func (m *Migrator) createMigrationsCollection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collections, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return err
	}

	for _, name := range collections {
		if name == "migrations" {
			return nil
		}
	}

	return m.db.CreateCollection(ctx, "migrations")
}

func (m *Migrator) getCurrentVersion() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result struct {
		Version int `bson:"version"`
	}

	err := m.db.Collection("migrations").FindOne(ctx, bson.D{}).Decode(&result)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, err
	}

	return result.Version, nil
}

func (m *Migrator) updateVersion(version int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.db.Collection("migrations").ReplaceOne(
		ctx,
		bson.D{},
		bson.D{{Key: "version", Value: version}, {Key: "updated_at", Value: time.Now()}},
		options.Replace().SetUpsert(true),
	)

	return err
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create geopositions collection with indexes",
			Up:          createGeoPositionsIndexes,
			Down:        dropCollection(GeoPositionsCollection),
		},
		{
			Version:     2,
			Description: "Create places and place_assignments collections with indexes",
			Up:          createPlacesIndexes,
			Down: func(db *mongo.Database) error {
				if err := dropCollection(PlaceAssignmentsCollection)(db); err != nil {
					return err
				}
				return dropCollection(PlacesCollection)(db)
			},
		},
		{
			Version:     3,
			Description: "Create stores, campaigns and devices indexes",
			Up:          createTargetingIndexes,
			Down: func(db *mongo.Database) error {
				for _, name := range []string{StoresCollection, CampaignsCollection, DevicesCollection} {
					if _, err := db.Collection(name).Indexes().DropAll(context.Background()); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     4,
			Description: "Create notification_attempts and deferred_actions collections with indexes",
			Up:          createDeliveryIndexes,
			Down: func(db *mongo.Database) error {
				if err := dropCollection(DeferredActionsCollection)(db); err != nil {
					return err
				}
				return dropCollection(AttemptsCollection)(db)
			},
		},
	}
}

func dropCollection(name string) func(*mongo.Database) error {
	return func(db *mongo.Database) error {
		return db.Collection(name).Drop(context.Background())
	}
}

func createGeoPositionsIndexes(db *mongo.Database) error {
	ctx := context.Background()
	collection := db.Collection(GeoPositionsCollection)

	indexes := []mongo.IndexModel{
		{
			// unclustered pull per device, in capture order
			Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "clustered", Value: 1}, {Key: "captured_at", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "clustered", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location", Value: "2dsphere"}},
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func createPlacesIndexes(db *mongo.Database) error {
	ctx := context.Background()

	places := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "device_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "company_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location", Value: "2dsphere"}},
		},
	}
	if _, err := db.Collection(PlacesCollection).Indexes().CreateMany(ctx, places); err != nil {
		return err
	}

	assignments := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "geoposition_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "place_id", Value: 1}},
		},
	}
	_, err := db.Collection(PlaceAssignmentsCollection).Indexes().CreateMany(ctx, assignments)
	return err
}

func createTargetingIndexes(db *mongo.Database) error {
	ctx := context.Background()

	stores := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "location", Value: "2dsphere"}},
		},
		{
			Keys: bson.D{{Key: "company_id", Value: 1}},
		},
	}
	if _, err := db.Collection(StoresCollection).Indexes().CreateMany(ctx, stores); err != nil {
		return err
	}

	campaigns := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "store_ids", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "partner_ids", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "state", Value: 1}},
		},
	}
	if _, err := db.Collection(CampaignsCollection).Indexes().CreateMany(ctx, campaigns); err != nil {
		return err
	}

	devices := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "client_id", Value: 1}},
		},
	}
	_, err := db.Collection(DevicesCollection).Indexes().CreateMany(ctx, devices)
	return err
}

func createDeliveryIndexes(db *mongo.Database) error {
	ctx := context.Background()

	attempts := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "device_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	if _, err := db.Collection(AttemptsCollection).Indexes().CreateMany(ctx, attempts); err != nil {
		return err
	}

	actions := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "processed_at", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}
	_, err := db.Collection(DeferredActionsCollection).Indexes().CreateMany(ctx, actions)
	return err
}
