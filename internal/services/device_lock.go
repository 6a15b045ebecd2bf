package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geoengage/internal/utils"
	"geoengage/pkg/logger"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeviceLease is a held device lock.
type DeviceLease interface {
	// Refresh extends the hold. It returns ErrLockLost once the hold has
	// expired or another pass has taken the device.
	Refresh(ctx context.Context) error
	Release()
}

// DeviceLocker gives one clustering pass at a time exclusive use of a device.
// TryLock never waits: ok is false when the device is already held.
type DeviceLocker interface {
	TryLock(ctx context.Context, deviceID primitive.ObjectID) (lease DeviceLease, ok bool, err error)
}

type localDeviceLocker struct {
	mu     sync.Mutex
	locked map[primitive.ObjectID]*localLease
}

// NewLocalDeviceLocker serializes passes within this process only.
func NewLocalDeviceLocker() DeviceLocker {
	return &localDeviceLocker{locked: make(map[primitive.ObjectID]*localLease)}
}

func (l *localDeviceLocker) TryLock(_ context.Context, deviceID primitive.ObjectID) (DeviceLease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locked[deviceID]; held {
		return nil, false, nil
	}
	lease := &localLease{locker: l, deviceID: deviceID}
	l.locked[deviceID] = lease
	return lease, true, nil
}

type localLease struct {
	locker   *localDeviceLocker
	deviceID primitive.ObjectID
	once     sync.Once
}

func (h *localLease) Refresh(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if h.locker.locked[h.deviceID] != h {
		return fmt.Errorf("device %s: %w", h.deviceID.Hex(), utils.ErrLockLost)
	}
	return nil
}

func (h *localLease) Release() {
	h.once.Do(func() {
		h.locker.mu.Lock()
		if h.locker.locked[h.deviceID] == h {
			delete(h.locker.locked, h.deviceID)
		}
		h.locker.mu.Unlock()
	})
}

// LockStore is the subset of the Redis cache used for distributed locks.
type LockStore interface {
	Key(parts ...string) string
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

type redisDeviceLocker struct {
	store  LockStore
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisDeviceLocker serializes passes across processes with SET NX PX.
// ttl bounds how long a crashed holder can keep a device; live holders
// refresh it between batches.
func NewRedisDeviceLocker(store LockStore, ttl time.Duration, log *logger.Logger) DeviceLocker {
	return &redisDeviceLocker{
		store:  store,
		ttl:    ttl,
		logger: log.WithField("component", "device_locker"),
	}
}

func (l *redisDeviceLocker) TryLock(ctx context.Context, deviceID primitive.ObjectID) (DeviceLease, bool, error) {
	key := l.store.Key("lock", "clustering", deviceID.Hex())
	token := uuid.NewString()

	ok, err := l.store.TryLock(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock device %s: %w", deviceID.Hex(), err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLease{locker: l, deviceID: deviceID, key: key, token: token}, true, nil
}

type redisLease struct {
	locker   *redisDeviceLocker
	deviceID primitive.ObjectID
	key      string
	token    string
	once     sync.Once
}

func (h *redisLease) Refresh(ctx context.Context) error {
	ok, err := h.locker.store.Extend(ctx, h.key, h.token, h.locker.ttl)
	if err != nil {
		return fmt.Errorf("failed to extend lock on device %s: %w", h.deviceID.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("device %s: %w", h.deviceID.Hex(), utils.ErrLockLost)
	}
	return nil
}

func (h *redisLease) Release() {
	h.once.Do(func() {
		// The pass context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.locker.store.Unlock(releaseCtx, h.key, h.token); err != nil {
			h.locker.logger.WithDeviceID(h.deviceID).WithError(err).Warn("Failed to release device lock")
		}
	})
}
