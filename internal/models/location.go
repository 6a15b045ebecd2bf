package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Location is a GeoJSON point. Coordinates are stored as [longitude, latitude]
// so the collections can carry a 2dsphere index.
type Location struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

func NewLocation(lat, lng float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
	}
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) >= 2 {
		return l.Coordinates[1]
	}
	return 0
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) >= 1 {
		return l.Coordinates[0]
	}
	return 0
}

// LocationUpdate is the inbound event emitted by the ingestion collaborators.
type LocationUpdate struct {
	DeviceID  primitive.ObjectID `json:"device_id" binding:"required"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Timestamp time.Time          `json:"timestamp"`
}

// DisseminationDecision reports what the live path did with a location update.
type DisseminationDecision struct {
	DeviceID   primitive.ObjectID  `json:"device_id"`
	CampaignID *primitive.ObjectID `json:"campaign_id,omitempty"`
	AttemptID  string              `json:"attempt_id,omitempty"`
	Reason     string              `json:"reason"`
}
