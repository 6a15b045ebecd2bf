package services

import (
	"context"
	"time"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/repositories/interfaces"
	"geoengage/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ReasonCampaignTotalLimit  = "campaign_total_limit_reached"
	ReasonCampaignDeviceLimit = "campaign_device_limit_reached"
	ReasonDeviceMinuteLimit   = "device_minute_limit_reached"
	ReasonDeviceHourLimit     = "device_hour_limit_reached"
	ReasonDeviceDayLimit      = "device_day_limit_reached"
)

// RateLimitService evaluates send ceilings. The checks read counters without
// locking, so concurrent callers can overshoot a ceiling slightly.
type RateLimitService interface {
	CheckCampaignTotal(ctx context.Context, campaign *models.Campaign) (*models.RateLimitResult, error)
	CheckCampaignDevice(ctx context.Context, campaign *models.Campaign, deviceID primitive.ObjectID) (*models.RateLimitResult, error)
	CheckDevice(ctx context.Context, deviceID primitive.ObjectID, at time.Time) (*models.RateLimitResult, error)

	// RemainingForCampaign returns how many sends the total ceiling still
	// allows. limited is false when the campaign has no total ceiling.
	RemainingForCampaign(ctx context.Context, campaign *models.Campaign) (remaining int64, limited bool, err error)
	RecordSend(ctx context.Context, attempt *models.NotificationAttempt) error
}

type deviceWindow struct {
	length time.Duration
	limit  int
	reason string
}

type rateLimitService struct {
	attemptRepo interfaces.AttemptRepository
	windowRepo  interfaces.DeviceWindowRepository
	windows     []deviceWindow
}

func NewRateLimitService(cfg *config.TargetingConfig, attemptRepo interfaces.AttemptRepository, windowRepo interfaces.DeviceWindowRepository) RateLimitService {
	return &rateLimitService{
		attemptRepo: attemptRepo,
		windowRepo:  windowRepo,
		windows: []deviceWindow{
			{length: utils.MinuteWindow, limit: cfg.DeviceLimitPerMinute, reason: ReasonDeviceMinuteLimit},
			{length: utils.HourWindow, limit: cfg.DeviceLimitPerHour, reason: ReasonDeviceHourLimit},
			{length: utils.DayWindow, limit: cfg.DeviceLimitPerDay, reason: ReasonDeviceDayLimit},
		},
	}
}

func (s *rateLimitService) CheckCampaignTotal(ctx context.Context, campaign *models.Campaign) (*models.RateLimitResult, error) {
	count, err := s.attemptRepo.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	return ceiling(campaign.TotalLimit, count, ReasonCampaignTotalLimit), nil
}

func (s *rateLimitService) CheckCampaignDevice(ctx context.Context, campaign *models.Campaign, deviceID primitive.ObjectID) (*models.RateLimitResult, error) {
	count, err := s.attemptRepo.CountByCampaignAndDevice(ctx, campaign.ID, deviceID)
	if err != nil {
		return nil, err
	}
	return ceiling(campaign.DeviceLimit, count, ReasonCampaignDeviceLimit), nil
}

// CheckDevice evaluates the minute, hour and day windows ending at at, in
// that order, and stops at the first one that is full.
func (s *rateLimitService) CheckDevice(ctx context.Context, deviceID primitive.ObjectID, at time.Time) (*models.RateLimitResult, error) {
	result := &models.RateLimitResult{}

	for _, window := range s.windows {
		if window.limit <= 0 {
			continue
		}

		count, err := s.windowRepo.Count(ctx, deviceID, at.Add(-window.length), at)
		if err != nil {
			return nil, err
		}

		limit := window.limit
		result = ceiling(&limit, count, window.reason)
		if result.Failed {
			return result, nil
		}
	}

	return result, nil
}

func (s *rateLimitService) RemainingForCampaign(ctx context.Context, campaign *models.Campaign) (int64, bool, error) {
	if campaign.TotalLimit == nil {
		return 0, false, nil
	}

	count, err := s.attemptRepo.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return 0, true, err
	}

	remaining := int64(*campaign.TotalLimit) - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}

func (s *rateLimitService) RecordSend(ctx context.Context, attempt *models.NotificationAttempt) error {
	return s.windowRepo.Record(ctx, attempt.DeviceID, attempt.ID, attempt.CreatedAt)
}

func ceiling(limit *int, count int64, reason string) *models.RateLimitResult {
	result := &models.RateLimitResult{Limit: limit, Count: count}
	if limit != nil && count >= int64(*limit) {
		result.Failed = true
		result.Reason = reason
	}
	return result
}
