package services

import (
	"context"
	"fmt"
	"sync"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/utils"
	"geoengage/pkg/logger"
	"geoengage/pkg/push"

	"golang.org/x/time/rate"
)

type DeliveryRequest struct {
	Attempt  *models.NotificationAttempt
	Device   *models.Device
	Campaign *models.Campaign
}

// OutcomeHandler receives the final status of a delivery attempt.
type OutcomeHandler func(ctx context.Context, outcome *models.OutcomeCallback) error

// DeliveryDispatcher hands attempts to the push providers in the
// background. Dispatch only enqueues.
type DeliveryDispatcher interface {
	Dispatch(request *DeliveryRequest) error
	SetOutcomeHandler(handler OutcomeHandler)
	Start(ctx context.Context)
	Stop()
}

type deliveryDispatcher struct {
	queue     chan *DeliveryRequest
	providers map[models.DevicePlatform]push.PushProvider
	limiter   *rate.Limiter
	workers   int

	mu        sync.RWMutex
	onOutcome OutcomeHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logger.Logger
}

func NewDeliveryDispatcher(cfg *config.TargetingConfig, providers map[models.DevicePlatform]push.PushProvider, log *logger.Logger) DeliveryDispatcher {
	limit := rate.Inf
	if cfg.DeliveryRatePerSec > 0 {
		limit = rate.Limit(cfg.DeliveryRatePerSec)
	}
	burst := cfg.DeliveryBurst
	if burst <= 0 {
		burst = 1
	}

	return &deliveryDispatcher{
		queue:     make(chan *DeliveryRequest, cfg.DeliveryQueueSize),
		providers: providers,
		limiter:   rate.NewLimiter(limit, burst),
		workers:   cfg.DeliveryWorkers,
		logger:    log.WithField("service", "delivery"),
	}
}

func (d *deliveryDispatcher) SetOutcomeHandler(handler OutcomeHandler) {
	d.mu.Lock()
	d.onOutcome = handler
	d.mu.Unlock()
}

func (d *deliveryDispatcher) Dispatch(request *DeliveryRequest) error {
	select {
	case d.queue <- request:
		return nil
	default:
		return utils.ErrQueueFull
	}
}

func (d *deliveryDispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case request := <-d.queue:
					d.deliver(ctx, request)
				}
			}
		}()
	}

	d.logger.Infof("Delivery dispatcher started with %d workers", d.workers)
}

// Stop halts the workers. Requests still queued are dropped; their attempts
// stay ACCEPTED.
func (d *deliveryDispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if pending := len(d.queue); pending > 0 {
		d.logger.Warnf("Delivery dispatcher stopped with %d queued requests", pending)
	}
}

func (d *deliveryDispatcher) deliver(ctx context.Context, request *DeliveryRequest) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	outcome := d.send(ctx, request)

	d.logger.LogDeliveryEvent(
		request.Attempt.ID,
		request.Device.ID,
		request.Campaign.ID,
		string(outcome.Status),
		map[string]interface{}{
			"platform": request.Device.Platform,
			"reason":   outcome.Reason,
		},
	)

	d.mu.RLock()
	handler := d.onOutcome
	d.mu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler(ctx, outcome); err != nil {
		d.logger.WithField("attempt_id", request.Attempt.ID).WithError(err).Error("Failed to record delivery outcome")
	}
}

func (d *deliveryDispatcher) send(ctx context.Context, request *DeliveryRequest) *models.OutcomeCallback {
	outcome := &models.OutcomeCallback{AttemptID: request.Attempt.ID}

	provider, ok := d.providers[request.Device.Platform]
	if !ok {
		outcome.Status = models.AttemptStatusFailed
		outcome.Reason = fmt.Sprintf("no provider for platform %q", request.Device.Platform)
		return outcome
	}

	response, err := provider.SendNotification(ctx, buildNotificationRequest(request))
	switch {
	case err != nil:
		outcome.Status = models.AttemptStatusFailed
		outcome.Reason = err.Error()
		if response != nil && response.Error != "" {
			outcome.Reason = response.Error
		}
	case response == nil || !response.Success:
		outcome.Status = models.AttemptStatusFailed
		if response != nil {
			outcome.Reason = response.Error
		}
	default:
		outcome.Status = models.AttemptStatusSent
		outcome.MessageID = response.MessageID
	}

	return outcome
}

func buildNotificationRequest(request *DeliveryRequest) *push.NotificationRequest {
	data := make(map[string]string, len(request.Campaign.Data)+2)
	for k, v := range request.Campaign.Data {
		data[k] = v
	}
	data["attempt_id"] = request.Attempt.ID
	data["campaign_id"] = request.Campaign.ID.Hex()

	return &push.NotificationRequest{
		Token:    request.Device.PushToken,
		Title:    request.Campaign.Title,
		Body:     request.Campaign.Body,
		Data:     data,
		GroupKey: request.Campaign.ID.Hex(),
		Urgent:   true,
	}
}
