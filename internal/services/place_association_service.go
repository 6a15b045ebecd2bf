package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/repositories/interfaces"
	"geoengage/internal/utils"
	"geoengage/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

type PlaceAssociationService interface {
	// Clustering
	AssociateForDevice(ctx context.Context, deviceID primitive.ObjectID, batchSize int) (*models.AssociationSummary, error)
	SweepAll(ctx context.Context) error

	// Reporting
	ListPlaces(ctx context.Context, filter *models.PlaceFilter, params *utils.PaginationParams) ([]*models.Place, int64, error)
	StoreProximity(ctx context.Context, storeID primitive.ObjectID, radiusMeters float64) (*models.ProximityStats, error)
}

type placeAssociationService struct {
	geoPositionRepo interfaces.GeoPositionRepository
	placeRepo       interfaces.PlaceRepository
	storeRepo       interfaces.StoreRepository
	tx              interfaces.TransactionRunner
	locker          DeviceLocker
	clusterer       *PlaceClusterer
	batchSize       int
	workers         int
	persistTimeout  time.Duration
	logger          *logger.Logger
}

func NewPlaceAssociationService(
	cfg *config.TargetingConfig,
	geoPositionRepo interfaces.GeoPositionRepository,
	placeRepo interfaces.PlaceRepository,
	storeRepo interfaces.StoreRepository,
	tx interfaces.TransactionRunner,
	locker DeviceLocker,
	clusterer *PlaceClusterer,
	log *logger.Logger,
) PlaceAssociationService {
	return &placeAssociationService{
		geoPositionRepo: geoPositionRepo,
		placeRepo:       placeRepo,
		storeRepo:       storeRepo,
		tx:              tx,
		locker:          locker,
		clusterer:       clusterer,
		batchSize:       cfg.ClusterBatchSize,
		workers:         cfg.ClusterWorkers,
		persistTimeout:  30 * time.Second,
		logger:          log.WithField("service", "place_association"),
	}
}

// batchResult is what a batch produced before it is written. Only the
// processed prefix of the batch is represented.
type batchResult struct {
	created     []*models.Place
	revisited   []*models.Place
	assignments []*models.PlaceAssignment
	processed   []primitive.ObjectID
	revisits    int
	noise       int
	interrupted bool
}

// AssociateForDevice drains the device's unclustered pings batch by batch.
// Each batch is written in its own transaction. Cancellation is honoured
// between pings; the pings already classified in the current batch are
// still written.
func (s *placeAssociationService) AssociateForDevice(ctx context.Context, deviceID primitive.ObjectID, batchSize int) (*models.AssociationSummary, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	lease, ok, err := s.locker.TryLock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID.Hex(), utils.ErrDeviceBusy)
	}
	defer lease.Release()

	started := time.Now()
	summary := &models.AssociationSummary{DeviceID: deviceID}
	defer func() {
		s.logger.LogClusteringPass(deviceID, summary.Pings, summary.PlacesCreated, summary.Revisits, summary.Noise, time.Since(started))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		pings, err := s.geoPositionRepo.FindUnclustered(ctx, deviceID, batchSize)
		if err != nil {
			return summary, fmt.Errorf("failed to load pending pings: %w", err)
		}
		if len(pings) == 0 {
			return summary, nil
		}

		places, err := s.placeRepo.FindByDevice(ctx, deviceID)
		if err != nil {
			return summary, fmt.Errorf("failed to load device places: %w", err)
		}

		result := s.classifyBatch(ctx, pings, places)
		if len(result.processed) > 0 {
			if err := s.persistBatch(ctx, lease, result); err != nil {
				return summary, err
			}
			summary.Batches++
			summary.Pings += len(result.processed)
			summary.PlacesCreated += len(result.created)
			summary.Revisits += result.revisits
			summary.Noise += result.noise
		}

		if result.interrupted {
			return summary, ctx.Err()
		}
	}
}

func (s *placeAssociationService) classifyBatch(ctx context.Context, pings []*models.GeoPosition, places []*models.Place) *batchResult {
	result := &batchResult{}
	created := make(map[primitive.ObjectID]bool)
	revisited := make(map[primitive.ObjectID]bool)

	for _, ping := range pings {
		if ctx.Err() != nil {
			result.interrupted = true
			break
		}

		outcome := s.clusterer.Classify(ping, places)
		switch outcome.Classification {
		case ClassificationNewPlace:
			places = append(places, outcome.Place)
			created[outcome.Place.ID] = true
			result.created = append(result.created, outcome.Place)
		case ClassificationRevisit:
			result.revisits++
			if !created[outcome.Place.ID] && !revisited[outcome.Place.ID] {
				revisited[outcome.Place.ID] = true
				result.revisited = append(result.revisited, outcome.Place)
			}
		case ClassificationNoise:
			result.noise++
		}

		result.assignments = append(result.assignments, &models.PlaceAssignment{
			PlaceID:       outcome.Place.ID,
			GeoPositionID: ping.ID,
			DeviceID:      ping.DeviceID,
			Accepted:      outcome.Accepted,
		})
		result.processed = append(result.processed, ping.ID)
	}

	return result
}

// persistBatch writes a batch even when ctx has been cancelled so that a
// classified ping is never left without its assignment. The device lease is
// refreshed first; a batch is dropped, and its pings stay pending, when the
// lease has been lost.
func (s *placeAssociationService) persistBatch(ctx context.Context, lease DeviceLease, result *batchResult) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := lease.Refresh(writeCtx); err != nil {
		return err
	}

	err := s.tx.WithTransaction(writeCtx, func(txCtx context.Context) error {
		for _, place := range result.created {
			if err := s.placeRepo.Create(txCtx, place); err != nil {
				return err
			}
		}
		for _, place := range result.revisited {
			if err := s.placeRepo.UpdateVisit(txCtx, place); err != nil {
				return err
			}
		}
		if err := s.placeRepo.CreateAssignments(txCtx, result.assignments); err != nil {
			return err
		}
		return s.geoPositionRepo.MarkClustered(txCtx, result.processed)
	})
	if err != nil {
		return fmt.Errorf("failed to persist clustering batch: %w", err)
	}

	return nil
}

// SweepAll runs the batch driver for every device with pending pings on a
// bounded pool. A failing device does not stop the others; all failures are
// returned joined. Devices held by another pass are skipped.
func (s *placeAssociationService) SweepAll(ctx context.Context) error {
	deviceIDs, err := s.geoPositionRepo.DistinctUnclusteredDevices(ctx)
	if err != nil {
		return err
	}
	if len(deviceIDs) == 0 {
		return nil
	}

	s.logger.Infof("Sweeping %d devices with pending pings", len(deviceIDs))

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, deviceID := range deviceIDs {
		if ctx.Err() != nil {
			break
		}
		deviceID := deviceID
		g.Go(func() error {
			_, err := s.AssociateForDevice(ctx, deviceID, s.batchSize)
			switch {
			case err == nil:
			case utils.IsDeviceBusy(err):
				s.logger.WithDeviceID(deviceID).Debug("Device busy, skipped")
			default:
				s.logger.WithDeviceID(deviceID).WithError(err).Error("Clustering pass failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("device %s: %w", deviceID.Hex(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

func (s *placeAssociationService) ListPlaces(ctx context.Context, filter *models.PlaceFilter, params *utils.PaginationParams) ([]*models.Place, int64, error) {
	return s.placeRepo.Find(ctx, filter, params)
}

func (s *placeAssociationService) StoreProximity(ctx context.Context, storeID primitive.ObjectID, radiusMeters float64) (*models.ProximityStats, error) {
	store, err := s.storeRepo.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}

	lat, lng := store.Location.Latitude(), store.Location.Longitude()

	places, err := s.placeRepo.CountNear(ctx, lat, lng, radiusMeters)
	if err != nil {
		return nil, err
	}

	pings, devices, err := s.geoPositionRepo.CountNear(ctx, lat, lng, radiusMeters)
	if err != nil {
		return nil, err
	}

	return &models.ProximityStats{
		StoreID:      storeID,
		RadiusMeters: radiusMeters,
		Places:       places,
		Pings:        pings,
		Devices:      devices,
	}, nil
}
