package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"geoengage/internal/utils"
	"geoengage/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestLocalDeviceLocker(t *testing.T) {
	locker := NewLocalDeviceLocker()
	ctx := context.Background()
	device := primitive.NewObjectID()

	lease, ok, err := locker.TryLock(ctx, device)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lease.Refresh(ctx))

	_, ok, err = locker.TryLock(ctx, device)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is refused")

	other, ok, err := locker.TryLock(ctx, primitive.NewObjectID())
	require.NoError(t, err)
	assert.True(t, ok, "other devices are independent")
	other.Release()

	lease.Release()
	lease.Release()
	assert.ErrorIs(t, lease.Refresh(ctx), utils.ErrLockLost)

	again, ok, err := locker.TryLock(ctx, device)
	require.NoError(t, err)
	assert.True(t, ok)

	lease.Release()
	require.NoError(t, again.Refresh(ctx), "a stale release does not free the new holder")
	again.Release()
}

type memoryLockStore struct {
	mu      sync.Mutex
	locks   map[string]string
	extends int
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{locks: make(map[string]string)}
}

func (s *memoryLockStore) Key(parts ...string) string {
	return strings.Join(parts, ":")
}

func (s *memoryLockStore) TryLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = token
	return true, nil
}

func (s *memoryLockStore) Extend(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] != token {
		return false, nil
	}
	s.extends++
	return true, nil
}

// expire drops key as if its TTL had run out.
func (s *memoryLockStore) expire(key string) {
	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
}

func (s *memoryLockStore) Unlock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == token {
		delete(s.locks, key)
	}
	return nil
}

func TestRedisDeviceLocker(t *testing.T) {
	store := newMemoryLockStore()
	locker := NewRedisDeviceLocker(store, time.Minute, logger.NewNop())
	ctx := context.Background()
	device := primitive.NewObjectID()

	lease, ok, err := locker.TryLock(ctx, device)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, store.locks, "lock:clustering:"+device.Hex())

	_, ok, err = locker.TryLock(ctx, device)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Refresh(ctx))
	assert.Equal(t, 1, store.extends)

	lease.Release()
	assert.Empty(t, store.locks)
}

func TestRedisDeviceLeaseLostAfterExpiry(t *testing.T) {
	store := newMemoryLockStore()
	locker := NewRedisDeviceLocker(store, time.Minute, logger.NewNop())
	ctx := context.Background()
	device := primitive.NewObjectID()
	key := "lock:clustering:" + device.Hex()

	first, ok, err := locker.TryLock(ctx, device)
	require.NoError(t, err)
	require.True(t, ok)

	store.expire(key)
	second, ok, err := locker.TryLock(ctx, device)
	require.NoError(t, err)
	require.True(t, ok, "the device is free once the TTL ran out")

	assert.ErrorIs(t, first.Refresh(ctx), utils.ErrLockLost)

	first.Release()
	assert.Contains(t, store.locks, key, "the expired holder cannot release the new one")
	require.NoError(t, second.Refresh(ctx))
	second.Release()
}
