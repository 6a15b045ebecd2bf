package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSProvider publishes to SNS mobile platform endpoints. The request token
// is the endpoint ARN.
type SNSProvider struct {
	client *sns.Client
}

func NewSNSProvider(ctx context.Context, region string) (*SNSProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSProvider{
		client: sns.NewFromConfig(cfg),
	}, nil
}

func (s *SNSProvider) Name() string {
	return "sns"
}

func (s *SNSProvider) SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error) {
	message, err := buildSNSMessage(request)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(request.Token),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return failedResponse(request, err.Error()), err
	}

	return &NotificationResponse{
		MessageID: aws.ToString(resp.MessageId),
		Success:   true,
		Token:     request.Token,
	}, nil
}

// buildSNSMessage renders the per-platform envelope SNS expects when
// MessageStructure is json.
func buildSNSMessage(request *NotificationRequest) (string, error) {
	gcm, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": request.Title,
			"body":  request.Body,
		},
		"data": request.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal GCM payload: %w", err)
	}

	apnsPayload := map[string]interface{}{
		"aps": map[string]interface{}{
			"alert": map[string]string{
				"title": request.Title,
				"body":  request.Body,
			},
		},
	}
	for k, v := range request.Data {
		apnsPayload[k] = v
	}
	apns, err := json.Marshal(apnsPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal APNS payload: %w", err)
	}

	envelope, err := json.Marshal(map[string]string{
		"default":      request.Body,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal SNS envelope: %w", err)
	}

	return string(envelope), nil
}
