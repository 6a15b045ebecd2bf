package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Store struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	CompanyID primitive.ObjectID  `json:"company_id" bson:"company_id"`
	PartnerID *primitive.ObjectID `json:"partner_id,omitempty" bson:"partner_id,omitempty"`
	Name      string              `json:"name" bson:"name"`
	Location  Location            `json:"location" bson:"location"`
	CreatedAt time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" bson:"updated_at"`
}

// StoreDistance is a store found by a proximity query together with its
// distance in meters from the query point.
type StoreDistance struct {
	Store          *Store  `json:"store"`
	DistanceMeters float64 `json:"distance_meters"`
}
