package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DeferredActionKind string

const (
	DeferredActionCancelJob DeferredActionKind = "cancel_job"
)

// DeferredAction is an outbox record written in the same transaction as the
// change that requires it and applied once that transaction has committed.
type DeferredAction struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Kind        DeferredActionKind `json:"kind" bson:"kind"`
	JobID       string             `json:"job_id" bson:"job_id"`
	Attempts    int                `json:"attempts" bson:"attempts"`
	LastError   string             `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}
