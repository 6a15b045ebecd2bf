package push

import (
	"context"
	"time"
)

type PushProvider interface {
	Name() string
	SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error)
}

type NotificationRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`

	// GroupKey collapses repeated sends of the same campaign on a device.
	GroupKey   string        `json:"group_key,omitempty"`
	Urgent     bool          `json:"urgent"`
	TimeToLive time.Duration `json:"time_to_live,omitempty"`
}

type NotificationResponse struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
}

func failedResponse(request *NotificationRequest, reason string) *NotificationResponse {
	return &NotificationResponse{
		Success: false,
		Error:   reason,
		Token:   request.Token,
	}
}
