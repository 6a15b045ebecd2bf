package config

import (
	"fmt"
	"time"
)

type TargetingConfig struct {
	// Place clustering
	ClusterMaxDistanceMeters float64       `yaml:"cluster_max_distance_meters"`
	ClusterNoiseWindow       time.Duration `yaml:"cluster_noise_window"`
	ClusterBatchSize         int           `yaml:"cluster_batch_size"`
	ClusterWorkers           int           `yaml:"cluster_workers"`
	ClusterSweepCron         string        `yaml:"cluster_sweep_cron"`
	DeviceLockTTL            time.Duration `yaml:"device_lock_ttl"`

	// Device ceilings, 0 disables the window
	DeviceLimitPerMinute int `yaml:"device_limit_per_minute"`
	DeviceLimitPerHour   int `yaml:"device_limit_per_hour"`
	DeviceLimitPerDay    int `yaml:"device_limit_per_day"`

	// Matching and dissemination. Store lookups reach at least
	// GeofenceSearchRadiusMeters, further when a running campaign is wider.
	GeofenceSearchRadiusMeters float64       `yaml:"geofence_search_radius_meters"`
	ScheduledPageSize          int           `yaml:"scheduled_page_size"`
	ReconcileCron              string        `yaml:"reconcile_cron"`
	OutboxInterval             time.Duration `yaml:"outbox_interval"`

	// Delivery
	DeliveryWorkers    int     `yaml:"delivery_workers"`
	DeliveryQueueSize  int     `yaml:"delivery_queue_size"`
	DeliveryRatePerSec float64 `yaml:"delivery_rate_per_sec"`
	DeliveryBurst      int     `yaml:"delivery_burst"`
}

func loadTargetingConfig() *TargetingConfig {
	return &TargetingConfig{
		ClusterMaxDistanceMeters: getEnvAsFloat64("CLUSTER_MAX_DISTANCE_METERS", 200),
		ClusterNoiseWindow:       getEnvAsDuration("CLUSTER_NOISE_WINDOW", 30*time.Minute),
		ClusterBatchSize:         getEnvAsInt("CLUSTER_BATCH_SIZE", 500),
		ClusterWorkers:           getEnvAsInt("CLUSTER_WORKERS", 4),
		ClusterSweepCron:         getEnv("CLUSTER_SWEEP_CRON", "*/5 * * * *"),
		DeviceLockTTL:            getEnvAsDuration("DEVICE_LOCK_TTL", 5*time.Minute),

		DeviceLimitPerMinute: getEnvAsInt("DEVICE_LIMIT_PER_MINUTE", 1),
		DeviceLimitPerHour:   getEnvAsInt("DEVICE_LIMIT_PER_HOUR", 3),
		DeviceLimitPerDay:    getEnvAsInt("DEVICE_LIMIT_PER_DAY", 10),

		GeofenceSearchRadiusMeters: getEnvAsFloat64("GEOFENCE_SEARCH_RADIUS_METERS", 5000),
		ScheduledPageSize:          getEnvAsInt("SCHEDULED_PAGE_SIZE", 1000),
		ReconcileCron:              getEnv("RECONCILE_CRON", "0 * * * *"),
		OutboxInterval:             getEnvAsDuration("OUTBOX_INTERVAL", 30*time.Second),

		DeliveryWorkers:    getEnvAsInt("DELIVERY_WORKERS", 8),
		DeliveryQueueSize:  getEnvAsInt("DELIVERY_QUEUE_SIZE", 10000),
		DeliveryRatePerSec: getEnvAsFloat64("DELIVERY_RATE_PER_SEC", 200),
		DeliveryBurst:      getEnvAsInt("DELIVERY_BURST", 50),
	}
}

func (c *TargetingConfig) Validate() error {
	if c.ClusterMaxDistanceMeters <= 0 {
		return fmt.Errorf("CLUSTER_MAX_DISTANCE_METERS must be positive")
	}
	if c.ClusterNoiseWindow < 0 {
		return fmt.Errorf("CLUSTER_NOISE_WINDOW must not be negative")
	}
	if c.ClusterBatchSize <= 0 {
		return fmt.Errorf("CLUSTER_BATCH_SIZE must be positive")
	}
	if c.ClusterWorkers <= 0 {
		return fmt.Errorf("CLUSTER_WORKERS must be positive")
	}
	if c.DeviceLimitPerMinute < 0 || c.DeviceLimitPerHour < 0 || c.DeviceLimitPerDay < 0 {
		return fmt.Errorf("device limits must not be negative")
	}
	if c.GeofenceSearchRadiusMeters <= 0 {
		return fmt.Errorf("GEOFENCE_SEARCH_RADIUS_METERS must be positive")
	}
	if c.ScheduledPageSize <= 0 {
		return fmt.Errorf("SCHEDULED_PAGE_SIZE must be positive")
	}
	if c.OutboxInterval <= 0 {
		return fmt.Errorf("OUTBOX_INTERVAL must be positive")
	}
	if c.DeliveryWorkers <= 0 || c.DeliveryQueueSize <= 0 {
		return fmt.Errorf("delivery workers and queue size must be positive")
	}
	return nil
}
