package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GeoPosition is one raw ping captured for a device.
type GeoPosition struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	DeviceID   primitive.ObjectID `json:"device_id" bson:"device_id"`
	CompanyID  primitive.ObjectID `json:"company_id" bson:"company_id"`
	Latitude   float64            `json:"latitude" bson:"latitude"`
	Longitude  float64            `json:"longitude" bson:"longitude"`
	Location   Location           `json:"location" bson:"location"`
	CapturedAt time.Time          `json:"captured_at" bson:"captured_at"`
	Clustered  bool               `json:"clustered" bson:"clustered"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}

func NewGeoPosition(deviceID, companyID primitive.ObjectID, lat, lng float64, capturedAt time.Time) *GeoPosition {
	return &GeoPosition{
		DeviceID:   deviceID,
		CompanyID:  companyID,
		Latitude:   lat,
		Longitude:  lng,
		Location:   NewLocation(lat, lng),
		CapturedAt: capturedAt,
	}
}
