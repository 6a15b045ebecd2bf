package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/repositories/interfaces"
	"geoengage/internal/utils"
	"geoengage/pkg/logger"
	"geoengage/pkg/scheduler"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ReasonDispatched  = "dispatched"
	ReasonNoPushToken = "no_push_token"
	ReasonNoMatch     = "no_matching_campaign"
	ReasonQueueFull   = "queue_full"
)

const (
	outboxBatchSize      = 100
	outcomeRecordTimeout = 10 * time.Second
)

type DisseminationService interface {
	// Live and scheduled paths
	HandleLocationUpdate(ctx context.Context, update *models.LocationUpdate) (*models.DisseminationDecision, error)
	RunScheduled(ctx context.Context, campaignID primitive.ObjectID, at time.Time) (int, error)
	RunJob(ctx context.Context, jobID string)

	// Lifecycle
	StartCampaign(ctx context.Context, campaignID primitive.ObjectID) error
	PauseCampaign(ctx context.Context, campaignID primitive.ObjectID) error
	CompleteCampaign(ctx context.Context, campaignID primitive.ObjectID) error
	DeleteDissemination(ctx context.Context, campaignID primitive.ObjectID) error

	// Maintenance
	ProcessOutbox(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (int, error)

	// Delivery feedback
	HandleOutcome(ctx context.Context, outcome *models.OutcomeCallback) error
}

type disseminationService struct {
	deviceRepo         interfaces.DeviceRepository
	geoPositionRepo    interfaces.GeoPositionRepository
	campaignRepo       interfaces.CampaignRepository
	attemptRepo        interfaces.AttemptRepository
	deferredActionRepo interfaces.DeferredActionRepository
	tx                 interfaces.TransactionRunner
	matcher            GeofenceMatcher
	rateLimit          RateLimitService
	filter             *AttributeFilter
	dispatcher         DeliveryDispatcher
	scheduler          scheduler.Scheduler
	pageSize           int
	now                func() time.Time
	logger             *logger.Logger
}

type DisseminationDeps struct {
	DeviceRepo         interfaces.DeviceRepository
	GeoPositionRepo    interfaces.GeoPositionRepository
	CampaignRepo       interfaces.CampaignRepository
	AttemptRepo        interfaces.AttemptRepository
	DeferredActionRepo interfaces.DeferredActionRepository
	Tx                 interfaces.TransactionRunner
	Matcher            GeofenceMatcher
	RateLimit          RateLimitService
	Filter             *AttributeFilter
	Dispatcher         DeliveryDispatcher
	Scheduler          scheduler.Scheduler
	Now                func() time.Time
}

func NewDisseminationService(cfg *config.TargetingConfig, deps DisseminationDeps, log *logger.Logger) DisseminationService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &disseminationService{
		deviceRepo:         deps.DeviceRepo,
		geoPositionRepo:    deps.GeoPositionRepo,
		campaignRepo:       deps.CampaignRepo,
		attemptRepo:        deps.AttemptRepo,
		deferredActionRepo: deps.DeferredActionRepo,
		tx:                 deps.Tx,
		matcher:            deps.Matcher,
		rateLimit:          deps.RateLimit,
		filter:             deps.Filter,
		dispatcher:         deps.Dispatcher,
		scheduler:          deps.Scheduler,
		pageSize:           cfg.ScheduledPageSize,
		now:                now,
		logger:             log.WithField("service", "dissemination"),
	}

	s.dispatcher.SetOutcomeHandler(s.HandleOutcome)
	return s
}

// HandleLocationUpdate stores the ping for clustering and, when the device
// can be notified, sends it the best matching geofence campaign.
func (s *disseminationService) HandleLocationUpdate(ctx context.Context, update *models.LocationUpdate) (*models.DisseminationDecision, error) {
	at := update.Timestamp
	if at.IsZero() {
		at = s.now()
	}

	device, err := s.deviceRepo.GetByID(ctx, update.DeviceID)
	if err != nil {
		return nil, err
	}

	position := models.NewGeoPosition(device.ID, device.CompanyID, update.Latitude, update.Longitude, at)
	if err := s.geoPositionRepo.Create(ctx, position); err != nil {
		return nil, err
	}

	decision := &models.DisseminationDecision{DeviceID: device.ID}
	log := s.logger.WithDeviceID(device.ID)

	if !device.CanReceivePush() {
		decision.Reason = ReasonNoPushToken
		return decision, nil
	}

	limit, err := s.rateLimit.CheckDevice(ctx, device.ID, at)
	if err != nil {
		return nil, err
	}
	if limit.Failed {
		log.WithField("reason", limit.Reason).Info("Device limit reached")
		decision.Reason = limit.Reason
		return decision, nil
	}

	campaign, err := s.matcher.Match(ctx, device, update.Latitude, update.Longitude, at)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		decision.Reason = ReasonNoMatch
		return decision, nil
	}

	attempt, err := s.send(ctx, device, campaign, at)
	if err != nil {
		return nil, err
	}

	decision.CampaignID = &campaign.ID
	decision.AttemptID = attempt.ID
	decision.Reason = ReasonDispatched
	if attempt.Status == models.AttemptStatusFailed {
		decision.Reason = attempt.Reason
	}
	return decision, nil
}

// send records the attempt before handing it to the dispatcher so that the
// outcome callback always finds it. A full queue fails the attempt but it
// still counts toward the ceilings.
func (s *disseminationService) send(ctx context.Context, device *models.Device, campaign *models.Campaign, at time.Time) (*models.NotificationAttempt, error) {
	attempt := &models.NotificationAttempt{
		ID:         uuid.NewString(),
		DeviceID:   device.ID,
		CampaignID: campaign.ID,
		CompanyID:  campaign.CompanyID,
		Status:     models.AttemptStatusAccepted,
		CreatedAt:  at,
	}

	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		return nil, err
	}
	if err := s.rateLimit.RecordSend(ctx, attempt); err != nil {
		return nil, err
	}

	err := s.dispatcher.Dispatch(&DeliveryRequest{Attempt: attempt, Device: device, Campaign: campaign})
	if errors.Is(err, utils.ErrQueueFull) {
		attempt.Status = models.AttemptStatusFailed
		attempt.Reason = ReasonQueueFull
		if err := s.attemptRepo.UpdateStatus(ctx, attempt.ID, attempt.Status, attempt.Reason, ""); err != nil {
			return nil, err
		}
		s.logger.WithCampaignID(campaign.ID).WithDeviceID(device.ID).Warn("Delivery queue full")
		return attempt, nil
	}
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// RunScheduled sends a SCHEDULED campaign to the company's devices until the
// total ceiling is used up. It returns how many sends were dispatched.
func (s *disseminationService) RunScheduled(ctx context.Context, campaignID primitive.ObjectID, at time.Time) (int, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Kind != models.CampaignKindScheduled {
		return 0, fmt.Errorf("campaign %s is not scheduled: %w", campaignID.Hex(), utils.ErrUnsupportedOperation)
	}

	log := s.logger.WithCampaignID(campaignID)
	if campaign.State != models.CampaignStateRunning || !campaign.ActiveAt(at) {
		log.Debug("Scheduled run skipped, campaign inactive")
		return 0, nil
	}

	remaining, limited, err := s.rateLimit.RemainingForCampaign(ctx, campaign)
	if err != nil {
		return 0, err
	}
	if limited && remaining == 0 {
		log.Info("Scheduled run skipped, total limit reached")
		return 0, nil
	}

	dispatched := 0
	afterID := primitive.NilObjectID

	for {
		devices, err := s.deviceRepo.FindByCompany(ctx, campaign.CompanyID, campaign.ClientIDs, afterID, s.pageSize)
		if err != nil {
			return dispatched, err
		}

		for _, device := range devices {
			if err := ctx.Err(); err != nil {
				return dispatched, err
			}

			ok, err := s.scheduledEligible(ctx, campaign, device, at)
			if err != nil {
				return dispatched, err
			}
			if !ok {
				continue
			}

			if _, err := s.send(ctx, device, campaign, at); err != nil {
				return dispatched, err
			}
			dispatched++

			if limited && int64(dispatched) >= remaining {
				log.Infof("Scheduled run dispatched %d, total limit reached", dispatched)
				return dispatched, nil
			}
		}

		if len(devices) < s.pageSize {
			break
		}
		afterID = devices[len(devices)-1].ID
	}

	log.Infof("Scheduled run dispatched %d", dispatched)
	return dispatched, nil
}

func (s *disseminationService) scheduledEligible(ctx context.Context, campaign *models.Campaign, device *models.Device, at time.Time) (bool, error) {
	if !device.CanReceivePush() || !campaign.AllowsClient(device.ClientID) {
		return false, nil
	}
	if !s.filter.Matches(campaign, device) {
		return false, nil
	}

	perDevice, err := s.rateLimit.CheckCampaignDevice(ctx, campaign, device.ID)
	if err != nil {
		return false, err
	}
	if perDevice.Failed {
		return false, nil
	}

	window, err := s.rateLimit.CheckDevice(ctx, device.ID, at)
	if err != nil {
		return false, err
	}
	return !window.Failed, nil
}

// RunJob is the scheduler callback for campaign jobs.
func (s *disseminationService) RunJob(ctx context.Context, jobID string) {
	campaignID, err := models.CampaignIDFromJobID(jobID)
	if err != nil {
		s.logger.WithField("job_id", jobID).Warn("Ignoring job with unknown id")
		return
	}

	if _, err := s.RunScheduled(ctx, campaignID, s.now()); err != nil {
		s.logger.WithCampaignID(campaignID).WithError(err).Error("Scheduled run failed")
	}
}

// StartCampaign moves a campaign to RUNNING. For SCHEDULED campaigns the job
// is scheduled or resumed in the same transaction, so a scheduler failure
// leaves the state unchanged.
func (s *disseminationService) StartCampaign(ctx context.Context, campaignID primitive.ObjectID) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.State == models.CampaignStateCompleted {
		return fmt.Errorf("campaign %s is completed: %w", campaignID.Hex(), utils.ErrUnsupportedOperation)
	}

	total, err := s.rateLimit.CheckCampaignTotal(ctx, campaign)
	if err != nil {
		return err
	}
	if total.Failed {
		return fmt.Errorf("campaign %s reached its total limit: %w", campaignID.Hex(), utils.ErrUnsupportedOperation)
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.UpdateState(txCtx, campaignID, models.CampaignStateRunning); err != nil {
			return err
		}
		if campaign.Kind != models.CampaignKindScheduled {
			return nil
		}
		return s.scheduleCampaign(campaign)
	})
	if err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}

	s.logger.WithCampaignID(campaignID).Info("Campaign started")
	return nil
}

func (s *disseminationService) scheduleCampaign(campaign *models.Campaign) error {
	jobID := campaign.JobID()

	err := s.scheduler.Resume(jobID)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		window := scheduler.Window{Start: campaign.StartAt, End: campaign.EndAt}
		err = s.scheduler.ScheduleRecurring(jobID, campaign.CronExpression, window)
	}
	if err != nil {
		return fmt.Errorf("failed to schedule campaign job: %w", err)
	}
	return nil
}

func (s *disseminationService) PauseCampaign(ctx context.Context, campaignID primitive.ObjectID) error {
	return s.stopCampaign(ctx, campaignID, models.CampaignStatePause)
}

func (s *disseminationService) CompleteCampaign(ctx context.Context, campaignID primitive.ObjectID) error {
	return s.stopCampaign(ctx, campaignID, models.CampaignStateCompleted)
}

func (s *disseminationService) stopCampaign(ctx context.Context, campaignID primitive.ObjectID, state models.CampaignState) error {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.UpdateState(txCtx, campaignID, state); err != nil {
			return err
		}
		if campaign.Kind != models.CampaignKindScheduled {
			return nil
		}
		if err := s.scheduler.Pause(campaign.JobID()); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			return fmt.Errorf("failed to pause campaign job: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to change campaign state: %w", err)
	}

	s.logger.WithCampaignID(campaignID).WithField("state", state).Info("Campaign state changed")
	return nil
}

// DeleteDissemination deletes the campaign and queues the cancellation of its
// job in one transaction, then applies the queue.
func (s *disseminationService) DeleteDissemination(ctx context.Context, campaignID primitive.ObjectID) error {
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.Delete(txCtx, campaignID); err != nil {
			return err
		}
		return s.deferredActionRepo.Enqueue(txCtx, &models.DeferredAction{
			Kind:  models.DeferredActionCancelJob,
			JobID: models.CampaignJobID(campaignID),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	if _, err := s.ProcessOutbox(ctx); err != nil {
		s.logger.WithCampaignID(campaignID).WithError(err).Warn("Outbox processing failed after delete")
	}
	return nil
}

// ProcessOutbox applies pending deferred actions. Failed actions stay pending
// and are retried on the next call.
func (s *disseminationService) ProcessOutbox(ctx context.Context) (int, error) {
	actions, err := s.deferredActionRepo.FindPending(ctx, outboxBatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, action := range actions {
		if err := s.applyAction(action); err != nil {
			s.logger.WithField("job_id", action.JobID).WithError(err).Warn("Deferred action failed")
			if markErr := s.deferredActionRepo.MarkFailed(ctx, action.ID, err.Error()); markErr != nil {
				return processed, markErr
			}
			continue
		}

		if err := s.deferredActionRepo.MarkProcessed(ctx, action.ID); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (s *disseminationService) applyAction(action *models.DeferredAction) error {
	switch action.Kind {
	case models.DeferredActionCancelJob:
		err := s.scheduler.Cancel(action.JobID)
		if err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown deferred action %q: %w", action.Kind, utils.ErrUnsupportedOperation)
	}
}

// Reconcile aligns the scheduler with the stored campaigns. RUNNING SCHEDULED
// campaigns get their job registered or resumed, jobs of other SCHEDULED
// campaigns are paused, and jobs whose campaign is gone are cancelled. It
// returns the number of jobs changed. A job that cannot be restored does not
// stop the others.
func (s *disseminationService) Reconcile(ctx context.Context) (int, error) {
	campaigns, err := s.campaignRepo.FindScheduled(ctx)
	if err != nil {
		return 0, err
	}

	registered := make(map[string]bool)
	for _, jobID := range s.scheduler.Jobs() {
		registered[jobID] = true
	}

	changed := 0
	var errs []error

	for _, campaign := range campaigns {
		jobID := campaign.JobID()
		log := s.logger.WithCampaignID(campaign.ID).WithField("job_id", jobID)
		running := campaign.State == models.CampaignStateRunning

		switch {
		case running && !registered[jobID]:
			window := scheduler.Window{Start: campaign.StartAt, End: campaign.EndAt}
			if err := s.scheduler.ScheduleRecurring(jobID, campaign.CronExpression, window); err != nil {
				errs = append(errs, fmt.Errorf("failed to restore job %s: %w", jobID, err))
				continue
			}
			log.Info("Restored campaign job")
		case running && s.scheduler.Paused(jobID):
			if err := s.scheduler.Resume(jobID); err != nil {
				errs = append(errs, fmt.Errorf("failed to resume job %s: %w", jobID, err))
				continue
			}
			log.Info("Resumed campaign job")
		case !running && registered[jobID] && !s.scheduler.Paused(jobID):
			if err := s.scheduler.Pause(jobID); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
				errs = append(errs, fmt.Errorf("failed to pause job %s: %w", jobID, err))
				continue
			}
			log.WithField("state", campaign.State).Info("Paused campaign job")
		default:
			continue
		}
		changed++
	}

	for jobID := range registered {
		campaignID, err := models.CampaignIDFromJobID(jobID)
		if err != nil {
			continue
		}

		exists, err := s.campaignRepo.Exists(ctx, campaignID)
		if err != nil {
			return changed, err
		}
		if exists {
			continue
		}

		if err := s.scheduler.Cancel(jobID); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			return changed, err
		}
		s.logger.WithField("job_id", jobID).Info("Cancelled orphaned job")
		changed++
	}

	return changed, errors.Join(errs...)
}

func (s *disseminationService) HandleOutcome(ctx context.Context, outcome *models.OutcomeCallback) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), outcomeRecordTimeout)
		defer cancel()
	}

	attempt, err := s.attemptRepo.GetByID(ctx, outcome.AttemptID)
	if err != nil {
		return err
	}

	if err := s.attemptRepo.UpdateStatus(ctx, attempt.ID, outcome.Status, outcome.Reason, outcome.MessageID); err != nil {
		return err
	}

	return s.deviceRepo.UpdateOutcome(ctx, attempt.DeviceID, &models.DeliveryOutcome{
		AttemptID:        attempt.ID,
		AttemptCreatedAt: attempt.CreatedAt,
		Status:           outcome.Status,
		Reason:           outcome.Reason,
		At:               s.now(),
	})
}
