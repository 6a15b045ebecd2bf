package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type FCMProvider struct {
	client *messaging.Client
}

func NewFCMProvider(ctx context.Context, projectID, credentialsFile string) (*FCMProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return &FCMProvider{
		client: client,
	}, nil
}

func (f *FCMProvider) Name() string {
	return "fcm"
}

func (f *FCMProvider) SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error) {
	messageID, err := f.client.Send(ctx, buildFCMMessage(request))
	if err != nil {
		reason := err.Error()
		if messaging.IsUnregistered(err) {
			reason = "unregistered"
		}
		return failedResponse(request, reason), err
	}

	return &NotificationResponse{
		MessageID: messageID,
		Success:   true,
		Token:     request.Token,
	}, nil
}

func buildFCMMessage(request *NotificationRequest) *messaging.Message {
	android := &messaging.AndroidConfig{
		Priority:    "normal",
		CollapseKey: request.GroupKey,
		Notification: &messaging.AndroidNotification{
			Tag:   request.GroupKey,
			Sound: "default",
		},
	}
	if request.Urgent {
		android.Priority = "high"
	}
	if request.TimeToLive > 0 {
		ttl := request.TimeToLive
		android.TTL = &ttl
	}

	return &messaging.Message{
		Token: request.Token,
		Data:  request.Data,
		Notification: &messaging.Notification{
			Title: request.Title,
			Body:  request.Body,
		},
		Android: android,
	}
}
