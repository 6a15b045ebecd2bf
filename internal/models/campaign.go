package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CampaignState string
type CampaignKind string

const (
	CampaignStateDraft     CampaignState = "DRAFT"
	CampaignStateRunning   CampaignState = "RUNNING"
	CampaignStatePause     CampaignState = "PAUSE"
	CampaignStateCompleted CampaignState = "COMPLETED"

	CampaignKindGeofence  CampaignKind = "GEOFENCE"
	CampaignKindScheduled CampaignKind = "SCHEDULED"
)

type Campaign struct {
	ID             primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	CompanyID      primitive.ObjectID   `json:"company_id" bson:"company_id"`
	Name           string               `json:"name" bson:"name"`
	Kind           CampaignKind         `json:"kind" bson:"kind"`
	State          CampaignState        `json:"state" bson:"state"`
	Priority       int                  `json:"priority" bson:"priority"`
	RadiusMeters   float64              `json:"radius_meters" bson:"radius_meters"`
	Filter         string               `json:"filter" bson:"filter"`
	ClientIDs      []string             `json:"client_ids" bson:"client_ids"`
	TotalLimit     *int                 `json:"total_limit" bson:"total_limit"`
	DeviceLimit    *int                 `json:"device_limit" bson:"device_limit"`
	StartAt        *time.Time           `json:"start_at" bson:"start_at"`
	EndAt          *time.Time           `json:"end_at" bson:"end_at"`
	StoreIDs       []primitive.ObjectID `json:"store_ids" bson:"store_ids"`
	PartnerIDs     []primitive.ObjectID `json:"partner_ids" bson:"partner_ids"`
	CronExpression string               `json:"cron_expression" bson:"cron_expression"`
	Title          string               `json:"title" bson:"title"`
	Body           string               `json:"body" bson:"body"`
	Data           map[string]string    `json:"data" bson:"data"`
	CreatedAt      time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" bson:"updated_at"`
}

// ActiveAt reports whether at falls inside (StartAt, EndAt]. A missing bound
// leaves that side open.
func (c *Campaign) ActiveAt(at time.Time) bool {
	if c.StartAt != nil && !c.StartAt.Before(at) {
		return false
	}
	if c.EndAt != nil && at.After(*c.EndAt) {
		return false
	}
	return true
}

func (c *Campaign) AllowsClient(clientID string) bool {
	if len(c.ClientIDs) == 0 {
		return true
	}
	if clientID == "" {
		return false
	}
	for _, id := range c.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

func (c *Campaign) JobID() string {
	return CampaignJobID(c.ID)
}

func CampaignJobID(id primitive.ObjectID) string {
	return "campaign-" + id.Hex()
}

func CampaignIDFromJobID(jobID string) (primitive.ObjectID, error) {
	const prefix = "campaign-"
	if len(jobID) <= len(prefix) || jobID[:len(prefix)] != prefix {
		return primitive.NilObjectID, primitive.ErrInvalidHex
	}
	return primitive.ObjectIDFromHex(jobID[len(prefix):])
}

// RateLimitResult is the outcome of a ceiling check. A failed check is a
// business rejection, not an error.
type RateLimitResult struct {
	Failed bool   `json:"failed"`
	Limit  *int   `json:"limit,omitempty"`
	Count  int64  `json:"count"`
	Reason string `json:"reason"`
}
