package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Place is a location a device keeps coming back to. Places belong to a
// single device and are never shared between devices.
type Place struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	DeviceID      primitive.ObjectID `json:"device_id" bson:"device_id"`
	CompanyID     primitive.ObjectID `json:"company_id" bson:"company_id"`
	Latitude      float64            `json:"latitude" bson:"latitude"`
	Longitude     float64            `json:"longitude" bson:"longitude"`
	Location      Location           `json:"location" bson:"location"`
	LastVisitedAt time.Time          `json:"last_visited_at" bson:"last_visited_at"`
	VisitCount    int                `json:"visit_count" bson:"visit_count"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// PlaceAssignment links a processed ping to the place it was classified
// against. Accepted is false for noise.
type PlaceAssignment struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	PlaceID       primitive.ObjectID `json:"place_id" bson:"place_id"`
	GeoPositionID primitive.ObjectID `json:"geoposition_id" bson:"geoposition_id"`
	DeviceID      primitive.ObjectID `json:"device_id" bson:"device_id"`
	Accepted      bool               `json:"accepted" bson:"accepted"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
}

type PlaceFilter struct {
	DeviceID  *primitive.ObjectID `json:"device_id,omitempty"`
	CompanyID *primitive.ObjectID `json:"company_id,omitempty"`
}

// ProximityStats aggregates clustering output around a store.
type ProximityStats struct {
	StoreID      primitive.ObjectID `json:"store_id"`
	RadiusMeters float64            `json:"radius_meters"`
	Places       int64              `json:"places"`
	Pings        int64              `json:"pings"`
	Devices      int64              `json:"devices"`
}

// AssociationSummary describes one batch driver run for a device.
type AssociationSummary struct {
	DeviceID      primitive.ObjectID `json:"device_id"`
	Batches       int                `json:"batches"`
	Pings         int                `json:"pings"`
	PlacesCreated int                `json:"places_created"`
	Revisits      int                `json:"revisits"`
	Noise         int                `json:"noise"`
}
