package redis

import (
	"context"
	"fmt"
	"time"

	"geoengage/internal/repositories/interfaces"
	"geoengage/internal/utils"
	"geoengage/pkg/cache"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type deviceWindowRepository struct {
	cache *cache.RedisCache
}

// NewDeviceWindowRepository stores each device's sends in a sorted set scored
// by send time in unix milliseconds. Entries older than a day are trimmed.
func NewDeviceWindowRepository(redisCache *cache.RedisCache) interfaces.DeviceWindowRepository {
	return &deviceWindowRepository{cache: redisCache}
}

func (r *deviceWindowRepository) key(deviceID primitive.ObjectID) string {
	return r.cache.Key("device_window", deviceID.Hex())
}

func (r *deviceWindowRepository) Record(ctx context.Context, deviceID primitive.ObjectID, attemptID string, at time.Time) error {
	if err := r.cache.AddEvent(ctx, r.key(deviceID), attemptID, at, utils.DayWindow); err != nil {
		return fmt.Errorf("failed to record device send: %w", err)
	}
	return nil
}

func (r *deviceWindowRepository) Count(ctx context.Context, deviceID primitive.ObjectID, from, to time.Time) (int64, error) {
	count, err := r.cache.CountEvents(ctx, r.key(deviceID), from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count device sends: %w", err)
	}
	return count, nil
}
