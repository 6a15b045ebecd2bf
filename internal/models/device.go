package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DevicePlatform string

const (
	DevicePlatformAndroid DevicePlatform = "android"
	DevicePlatformIOS     DevicePlatform = "ios"
	DevicePlatformSNS     DevicePlatform = "sns"
)

type Device struct {
	ID          primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	CompanyID   primitive.ObjectID     `json:"company_id" bson:"company_id"`
	ClientID    string                 `json:"client_id,omitempty" bson:"client_id,omitempty"`
	PushToken   string                 `json:"push_token,omitempty" bson:"push_token,omitempty"`
	Platform    DevicePlatform         `json:"platform" bson:"platform"`
	Attributes  map[string]interface{} `json:"attributes" bson:"attributes"`
	LastOutcome *DeliveryOutcome       `json:"last_outcome,omitempty" bson:"last_outcome,omitempty"`
	CreatedAt   time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" bson:"updated_at"`
}

func (d *Device) CanReceivePush() bool {
	return d.PushToken != ""
}

// DeliveryOutcome is the delivery result of the device's most recent attempt.
type DeliveryOutcome struct {
	AttemptID        string        `json:"attempt_id" bson:"attempt_id"`
	AttemptCreatedAt time.Time     `json:"attempt_created_at" bson:"attempt_created_at"`
	Status           AttemptStatus `json:"status" bson:"status"`
	Reason           string        `json:"reason,omitempty" bson:"reason,omitempty"`
	At               time.Time     `json:"at" bson:"at"`
}

// Supersedes reports whether o may replace current as the device's outcome.
// Outcomes of older attempts never replace those of newer ones.
func (o *DeliveryOutcome) Supersedes(current *DeliveryOutcome) bool {
	return current == nil || !o.AttemptCreatedAt.Before(current.AttemptCreatedAt)
}
