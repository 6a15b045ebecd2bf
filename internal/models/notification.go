package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AttemptStatus string

const (
	AttemptStatusAccepted AttemptStatus = "ACCEPTED"
	AttemptStatusSent     AttemptStatus = "SENT"
	AttemptStatusFailed   AttemptStatus = "FAILED"
)

// NotificationAttempt is a send accepted for delivery. Every attempt counts
// toward the campaign and device ceilings whatever its final status.
type NotificationAttempt struct {
	ID         string             `json:"id" bson:"_id"`
	DeviceID   primitive.ObjectID `json:"device_id" bson:"device_id"`
	CampaignID primitive.ObjectID `json:"campaign_id" bson:"campaign_id"`
	CompanyID  primitive.ObjectID `json:"company_id" bson:"company_id"`
	Status     AttemptStatus      `json:"status" bson:"status"`
	Reason     string             `json:"reason,omitempty" bson:"reason,omitempty"`
	MessageID  string             `json:"message_id,omitempty" bson:"message_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// OutcomeCallback is the delivery collaborator's report for an attempt.
type OutcomeCallback struct {
	AttemptID string        `json:"attempt_id" binding:"required"`
	Status    AttemptStatus `json:"status" binding:"required"`
	Reason    string        `json:"reason"`
	MessageID string        `json:"message_id"`
}

func (s AttemptStatus) IsFinal() bool {
	return s == AttemptStatusSent || s == AttemptStatusFailed
}
