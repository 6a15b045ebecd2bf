package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoengage/internal/models"
	"geoengage/internal/utils"
	"geoengage/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type associationFixture struct {
	geo       *memGeoPositions
	places    *memPlaces
	stores    *memStores
	locker    DeviceLocker
	clusterer *PlaceClusterer
	service   PlaceAssociationService
	company   primitive.ObjectID
}

func newAssociationFixture() *associationFixture {
	f := &associationFixture{
		geo:       &memGeoPositions{},
		places:    &memPlaces{},
		stores:    &memStores{},
		locker:    NewLocalDeviceLocker(),
		clusterer: NewPlaceClusterer(200, 30*time.Minute),
		company:   primitive.NewObjectID(),
	}
	f.build()
	return f
}

func (f *associationFixture) build() {
	f.service = NewPlaceAssociationService(testTargetingConfig(), f.geo, f.places, f.stores, &fakeTx{}, f.locker, f.clusterer, logger.NewNop())
}

func (f *associationFixture) ping(t *testing.T, device primitive.ObjectID, lat, lng float64, at time.Time) {
	t.Helper()
	require.NoError(t, f.geo.Create(context.Background(), models.NewGeoPosition(device, f.company, lat, lng, at)))
}

func TestAssociateForDeviceScenario(t *testing.T) {
	f := newAssociationFixture()
	device := primitive.NewObjectID()

	f.ping(t, device, 42.000, 42.000, clusterBase)
	f.ping(t, device, 42.0005, 42.0005, clusterBase.Add(10*time.Minute))
	f.ping(t, device, 42.0005, 42.0005, clusterBase.Add(40*time.Minute))

	summary, err := f.service.AssociateForDevice(context.Background(), device, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 3, summary.Pings)
	assert.Equal(t, 1, summary.PlacesCreated)
	assert.Equal(t, 1, summary.Revisits)
	assert.Equal(t, 1, summary.Noise)

	places := f.places.byDevice(device)
	require.Len(t, places, 1)
	assert.Equal(t, 2, places[0].VisitCount)
	assert.Equal(t, clusterBase.Add(40*time.Minute), places[0].LastVisitedAt)
	assert.Equal(t, 42.0, places[0].Latitude)

	assignments, err := f.places.GetAssignmentsByPlace(context.Background(), places[0].ID)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	assert.Equal(t, []bool{true, false, true}, []bool{assignments[0].Accepted, assignments[1].Accepted, assignments[2].Accepted})
	assert.Zero(t, f.geo.unclustered())
}

func TestAssociateForDeviceNothingPending(t *testing.T) {
	f := newAssociationFixture()

	summary, err := f.service.AssociateForDevice(context.Background(), primitive.NewObjectID(), 0)
	require.NoError(t, err)
	assert.Zero(t, summary.Pings)
	assert.Zero(t, summary.Batches)
}

func TestAssociateForDeviceBusy(t *testing.T) {
	f := newAssociationFixture()
	device := primitive.NewObjectID()
	f.ping(t, device, 42, 42, clusterBase)

	lease, ok, err := f.locker.TryLock(context.Background(), device)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release()

	_, err = f.service.AssociateForDevice(context.Background(), device, 10)
	assert.True(t, utils.IsDeviceBusy(err))
	assert.Equal(t, 1, f.geo.unclustered())
}

func TestAssociateForDeviceWriteFailureLeavesPingsPending(t *testing.T) {
	f := newAssociationFixture()
	device := primitive.NewObjectID()
	f.ping(t, device, 42, 42, clusterBase)
	f.places.failCreate = errors.New("write conflict")

	_, err := f.service.AssociateForDevice(context.Background(), device, 10)
	require.Error(t, err)
	assert.Equal(t, 1, f.geo.unclustered())
	assert.Empty(t, f.places.byDevice(device))
}

// leaseOnlyLocker hands out leases that survive a fixed number of refreshes.
type leaseOnlyLocker struct {
	refreshes int
}

type countedLease struct {
	left *int
}

func (l *leaseOnlyLocker) TryLock(context.Context, primitive.ObjectID) (DeviceLease, bool, error) {
	return &countedLease{left: &l.refreshes}, true, nil
}

func (h *countedLease) Refresh(context.Context) error {
	if *h.left <= 0 {
		return utils.ErrLockLost
	}
	*h.left--
	return nil
}

func (h *countedLease) Release() {}

func TestAssociateForDeviceStopsWhenLeaseLost(t *testing.T) {
	f := newAssociationFixture()
	f.locker = &leaseOnlyLocker{refreshes: 1}
	f.build()
	device := primitive.NewObjectID()

	f.ping(t, device, 42.000, 42.000, clusterBase)
	f.ping(t, device, 42.0005, 42.0005, clusterBase.Add(10*time.Minute))
	f.ping(t, device, 42.0005, 42.0005, clusterBase.Add(40*time.Minute))

	summary, err := f.service.AssociateForDevice(context.Background(), device, 1)
	require.ErrorIs(t, err, utils.ErrLockLost)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 1, summary.Pings)
	assert.Equal(t, 2, f.geo.unclustered(), "batches after the lease was lost are not written")
}

func TestAssociateForDeviceStopsBetweenPings(t *testing.T) {
	f := newAssociationFixture()
	device := primitive.NewObjectID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The second ping is the first one compared against a place; cancel
	// while it is being classified.
	f.clusterer = NewPlaceClusterer(200, 30*time.Minute).WithDistanceFunc(func(lat1, lon1, lat2, lon2 float64) float64 {
		cancel()
		return utils.DistanceMeters(lat1, lon1, lat2, lon2)
	})
	f.build()

	f.ping(t, device, 42, 42, clusterBase)
	f.ping(t, device, 42, 42, clusterBase.Add(5*time.Minute))
	f.ping(t, device, 42, 42, clusterBase.Add(50*time.Minute))

	summary, err := f.service.AssociateForDevice(ctx, device, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Pings)
	assert.Equal(t, 1, summary.Noise)
	assert.Equal(t, 1, f.geo.unclustered())

	places := f.places.byDevice(device)
	require.Len(t, places, 1)
	assert.Equal(t, 1, places[0].VisitCount)

	// A later pass picks up the remaining ping.
	summary, err = f.service.AssociateForDevice(context.Background(), device, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Revisits)
	assert.Zero(t, f.geo.unclustered())
}

func TestSweepAllKeepsPlacesPerDevice(t *testing.T) {
	f := newAssociationFixture()
	devices := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()}
	for _, device := range devices {
		f.ping(t, device, 42, 42, clusterBase)
		f.ping(t, device, 42, 42, clusterBase.Add(time.Hour))
		f.ping(t, device, 43, 43, clusterBase.Add(2*time.Hour))
	}

	require.NoError(t, f.service.SweepAll(context.Background()))
	assert.Zero(t, f.geo.unclustered())

	for _, device := range devices {
		places := f.places.byDevice(device)
		require.Len(t, places, 2)
		for _, place := range places {
			assert.Equal(t, device, place.DeviceID)
		}
	}
}

func TestSweepAllContinuesPastFailedDevice(t *testing.T) {
	f := newAssociationFixture()
	broken := primitive.NewObjectID()
	healthy := primitive.NewObjectID()
	f.ping(t, broken, 42, 42, clusterBase)
	f.ping(t, healthy, 42, 42, clusterBase)
	f.geo.failFor = map[primitive.ObjectID]error{broken: errors.New("cursor killed")}

	err := f.service.SweepAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.Hex())
	assert.Len(t, f.places.byDevice(healthy), 1)
}

func TestStoreProximity(t *testing.T) {
	f := newAssociationFixture()
	store := &models.Store{CompanyID: f.company, Location: models.NewLocation(42, 42)}
	require.NoError(t, f.stores.Create(context.Background(), store))

	near := primitive.NewObjectID()
	far := primitive.NewObjectID()
	f.ping(t, near, 42.0001, 42.0001, clusterBase)
	f.ping(t, near, 42.0001, 42.0001, clusterBase.Add(time.Hour))
	f.ping(t, far, 45, 45, clusterBase)
	require.NoError(t, f.service.SweepAll(context.Background()))

	stats, err := f.service.StoreProximity(context.Background(), store.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Places)
	assert.Equal(t, int64(2), stats.Pings)
	assert.Equal(t, int64(1), stats.Devices)

	_, err = f.service.StoreProximity(context.Background(), primitive.NewObjectID(), 100)
	assert.True(t, utils.IsNotFound(err))
}

func TestListPlaces(t *testing.T) {
	f := newAssociationFixture()
	device := primitive.NewObjectID()
	f.ping(t, device, 42, 42, clusterBase)
	f.ping(t, device, 43, 43, clusterBase)
	f.ping(t, primitive.NewObjectID(), 44, 44, clusterBase)
	require.NoError(t, f.service.SweepAll(context.Background()))

	params := &utils.PaginationParams{Page: 1, PageSize: 1, Sort: "_id", Order: "asc"}
	places, total, err := f.service.ListPlaces(context.Background(), &models.PlaceFilter{DeviceID: &device}, params)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, places, 1)
}
