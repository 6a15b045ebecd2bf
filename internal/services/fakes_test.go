package services

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/utils"
	"geoengage/pkg/push"
	"geoengage/pkg/scheduler"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testTargetingConfig() *config.TargetingConfig {
	return &config.TargetingConfig{
		ClusterMaxDistanceMeters:   200,
		ClusterNoiseWindow:         30 * time.Minute,
		ClusterBatchSize:           2,
		ClusterWorkers:             2,
		DeviceLockTTL:              time.Minute,
		DeviceLimitPerMinute:       1,
		DeviceLimitPerHour:         3,
		DeviceLimitPerDay:          10,
		GeofenceSearchRadiusMeters: 5000,
		ScheduledPageSize:          2,
		DeliveryWorkers:            2,
		DeliveryQueueSize:          16,
		DeliveryRatePerSec:         1000,
		DeliveryBurst:              100,
	}
}

func lessID(a, b primitive.ObjectID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

type memGeoPositions struct {
	mu        sync.Mutex
	positions []*models.GeoPosition
	failFor   map[primitive.ObjectID]error
}

func (r *memGeoPositions) Create(_ context.Context, position *models.GeoPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if position.ID.IsZero() {
		position.ID = primitive.NewObjectID()
	}
	position.Location = models.NewLocation(position.Latitude, position.Longitude)
	copied := *position
	r.positions = append(r.positions, &copied)
	return nil
}

func (r *memGeoPositions) GetByID(_ context.Context, id primitive.ObjectID) (*models.GeoPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memGeoPositions) FindUnclustered(_ context.Context, deviceID primitive.ObjectID, limit int) ([]*models.GeoPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[deviceID]; err != nil {
		return nil, err
	}
	var pending []*models.GeoPosition
	for _, p := range r.positions {
		if p.DeviceID == deviceID && !p.Clustered {
			copied := *p
			pending = append(pending, &copied)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].CapturedAt.Equal(pending[j].CapturedAt) {
			return pending[i].CapturedAt.Before(pending[j].CapturedAt)
		}
		return lessID(pending[i].ID, pending[j].ID)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *memGeoPositions) MarkClustered(_ context.Context, ids []primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for _, p := range r.positions {
		if set[p.ID] {
			p.Clustered = true
		}
	}
	return nil
}

func (r *memGeoPositions) DistinctUnclusteredDevices(_ context.Context) ([]primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, p := range r.positions {
		if !p.Clustered && !seen[p.DeviceID] {
			seen[p.DeviceID] = true
			ids = append(ids, p.DeviceID)
		}
	}
	return ids, nil
}

func (r *memGeoPositions) CountNear(_ context.Context, lat, lng, radiusMeters float64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pings int64
	devices := make(map[primitive.ObjectID]bool)
	for _, p := range r.positions {
		if utils.IsWithinRadius(lat, lng, p.Latitude, p.Longitude, radiusMeters) {
			pings++
			devices[p.DeviceID] = true
		}
	}
	return pings, int64(len(devices)), nil
}

func (r *memGeoPositions) unclustered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.positions {
		if !p.Clustered {
			n++
		}
	}
	return n
}

type memPlaces struct {
	mu          sync.Mutex
	places      []*models.Place
	assignments []*models.PlaceAssignment
	failCreate  error
}

func (r *memPlaces) Create(_ context.Context, place *models.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	if place.ID.IsZero() {
		place.ID = primitive.NewObjectID()
	}
	copied := *place
	r.places = append(r.places, &copied)
	return nil
}

func (r *memPlaces) GetByID(_ context.Context, id primitive.ObjectID) (*models.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.places {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memPlaces) UpdateVisit(_ context.Context, place *models.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.places {
		if p.ID == place.ID {
			p.VisitCount = place.VisitCount
			p.LastVisitedAt = place.LastVisitedAt
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *memPlaces) FindByDevice(_ context.Context, deviceID primitive.ObjectID) ([]*models.Place, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var places []*models.Place
	for _, p := range r.places {
		if p.DeviceID == deviceID {
			copied := *p
			places = append(places, &copied)
		}
	}
	return places, nil
}

func (r *memPlaces) CreateAssignments(_ context.Context, assignments []*models.PlaceAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range assignments {
		copied := *a
		copied.ID = primitive.NewObjectID()
		r.assignments = append(r.assignments, &copied)
	}
	return nil
}

func (r *memPlaces) GetAssignmentsByPlace(_ context.Context, placeID primitive.ObjectID) ([]*models.PlaceAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PlaceAssignment
	for _, a := range r.assignments {
		if a.PlaceID == placeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memPlaces) Find(_ context.Context, filter *models.PlaceFilter, params *utils.PaginationParams) ([]*models.Place, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*models.Place
	for _, p := range r.places {
		if filter.DeviceID != nil && p.DeviceID != *filter.DeviceID {
			continue
		}
		if filter.CompanyID != nil && p.CompanyID != *filter.CompanyID {
			continue
		}
		matched = append(matched, p)
	}
	total := int64(len(matched))
	start := params.GetSkip()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.GetLimit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memPlaces) CountNear(_ context.Context, lat, lng, radiusMeters float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.places {
		if utils.IsWithinRadius(lat, lng, p.Latitude, p.Longitude, radiusMeters) {
			n++
		}
	}
	return n, nil
}

func (r *memPlaces) byDevice(deviceID primitive.ObjectID) []*models.Place {
	places, _ := r.FindByDevice(context.Background(), deviceID)
	return places
}

type memStores struct {
	stores []*models.Store
}

func (r *memStores) Create(_ context.Context, store *models.Store) error {
	if store.ID.IsZero() {
		store.ID = primitive.NewObjectID()
	}
	r.stores = append(r.stores, store)
	return nil
}

func (r *memStores) GetByID(_ context.Context, id primitive.ObjectID) (*models.Store, error) {
	for _, s := range r.stores {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memStores) FindNear(_ context.Context, lat, lng, maxMeters float64) ([]*models.StoreDistance, error) {
	var out []*models.StoreDistance
	for _, s := range r.stores {
		d := utils.DistanceMeters(lat, lng, s.Location.Latitude(), s.Location.Longitude())
		if d <= maxMeters {
			out = append(out, &models.StoreDistance{Store: s, DistanceMeters: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

type memCampaigns struct {
	mu        sync.Mutex
	campaigns []*models.Campaign
	findErr   error
}

func (r *memCampaigns) Create(_ context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if campaign.ID.IsZero() {
		campaign.ID = primitive.NewObjectID()
	}
	r.campaigns = append(r.campaigns, campaign)
	return nil
}

func (r *memCampaigns) GetByID(_ context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memCampaigns) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	_, err := r.GetByID(ctx, id)
	if errors.Is(err, utils.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *memCampaigns) UpdateState(_ context.Context, id primitive.ObjectID, state models.CampaignState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.ID == id {
			c.State = state
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *memCampaigns) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.campaigns {
		if c.ID == id {
			r.campaigns = append(r.campaigns[:i], r.campaigns[i+1:]...)
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *memCampaigns) FindGeofenceByTargets(_ context.Context, storeIDs, partnerIDs []primitive.ObjectID) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	wanted := make(map[primitive.ObjectID]bool)
	for _, id := range append(append([]primitive.ObjectID{}, storeIDs...), partnerIDs...) {
		wanted[id] = true
	}
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Kind != models.CampaignKindGeofence {
			continue
		}
		hit := false
		for _, id := range append(append([]primitive.ObjectID{}, c.StoreIDs...), c.PartnerIDs...) {
			if wanted[id] {
				hit = true
			}
		}
		if hit {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memCampaigns) MaxGeofenceRadius(context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return 0, r.findErr
	}
	var radius float64
	for _, c := range r.campaigns {
		if c.Kind == models.CampaignKindGeofence && c.State == models.CampaignStateRunning && c.RadiusMeters > radius {
			radius = c.RadiusMeters
		}
	}
	return radius, nil
}

func (r *memCampaigns) FindScheduled(context.Context) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Kind == models.CampaignKindScheduled {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (r *memCampaigns) snapshot() []models.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Campaign, len(r.campaigns))
	for i, c := range r.campaigns {
		out[i] = *c
	}
	return out
}

func (r *memCampaigns) restore(snapshot []models.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns = make([]*models.Campaign, len(snapshot))
	for i := range snapshot {
		c := snapshot[i]
		r.campaigns[i] = &c
	}
}

type memDevices struct {
	mu      sync.Mutex
	devices []*models.Device
}

func (r *memDevices) Create(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if device.ID.IsZero() {
		device.ID = primitive.NewObjectID()
	}
	r.devices = append(r.devices, device)
	sort.SliceStable(r.devices, func(i, j int) bool { return lessID(r.devices[i].ID, r.devices[j].ID) })
	return nil
}

func (r *memDevices) GetByID(_ context.Context, id primitive.ObjectID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memDevices) UpdateOutcome(_ context.Context, id primitive.ObjectID, outcome *models.DeliveryOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.ID == id {
			if outcome.Supersedes(d.LastOutcome) {
				d.LastOutcome = outcome
			}
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *memDevices) FindByCompany(_ context.Context, companyID primitive.ObjectID, clientIDs []string, afterID primitive.ObjectID, limit int) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := make(map[string]bool, len(clientIDs))
	for _, id := range clientIDs {
		allowed[id] = true
	}
	var out []*models.Device
	for _, d := range r.devices {
		if d.CompanyID != companyID || !lessID(afterID, d.ID) {
			continue
		}
		if len(clientIDs) > 0 && !allowed[d.ClientID] {
			continue
		}
		copied := *d
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]*models.NotificationAttempt
	order    []string
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: make(map[string]*models.NotificationAttempt)}
}

func (r *memAttempts) Create(_ context.Context, attempt *models.NotificationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *attempt
	r.attempts[attempt.ID] = &copied
	r.order = append(r.order, attempt.ID)
	return nil
}

func (r *memAttempts) GetByID(_ context.Context, id string) (*models.NotificationAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memAttempts) UpdateStatus(_ context.Context, id string, status models.AttemptStatus, reason, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return utils.ErrNotFound
	}
	a.Status = status
	a.Reason = reason
	if messageID != "" {
		a.MessageID = messageID
	}
	return nil
}

func (r *memAttempts) CountByCampaign(_ context.Context, campaignID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.attempts {
		if a.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (r *memAttempts) CountByCampaignAndDevice(_ context.Context, campaignID, deviceID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.attempts {
		if a.CampaignID == campaignID && a.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

func (r *memAttempts) add(campaignID, deviceID primitive.ObjectID, n int) {
	for i := 0; i < n; i++ {
		_ = r.Create(context.Background(), &models.NotificationAttempt{
			ID:         primitive.NewObjectID().Hex(),
			CampaignID: campaignID,
			DeviceID:   deviceID,
			Status:     models.AttemptStatusFailed,
		})
	}
}

func (r *memAttempts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

type memDeferredActions struct {
	mu      sync.Mutex
	actions []*models.DeferredAction
}

func (r *memDeferredActions) Enqueue(_ context.Context, action *models.DeferredAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action.ID = primitive.NewObjectID()
	r.actions = append(r.actions, action)
	return nil
}

func (r *memDeferredActions) FindPending(_ context.Context, limit int) ([]*models.DeferredAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeferredAction
	for _, a := range r.actions {
		if a.ProcessedAt == nil {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memDeferredActions) MarkProcessed(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.ID == id {
			now := time.Now()
			a.ProcessedAt = &now
			a.Attempts++
			return nil
		}
	}
	return utils.ErrNotFound
}

func (r *memDeferredActions) MarkFailed(_ context.Context, id primitive.ObjectID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.ID == id {
			a.LastError = reason
			a.Attempts++
		}
	}
	return nil
}

type memDeviceWindows struct {
	mu    sync.Mutex
	sends map[primitive.ObjectID][]time.Time
}

func newMemDeviceWindows() *memDeviceWindows {
	return &memDeviceWindows{sends: make(map[primitive.ObjectID][]time.Time)}
}

func (r *memDeviceWindows) Record(_ context.Context, deviceID primitive.ObjectID, _ string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends[deviceID] = append(r.sends[deviceID], at)
	return nil
}

// Count counts sends in (from, to].
func (r *memDeviceWindows) Count(_ context.Context, deviceID primitive.ObjectID, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, at := range r.sends[deviceID] {
		if at.After(from) && !at.After(to) {
			n++
		}
	}
	return n, nil
}

// fakeTx restores the campaign store when fn fails.
// fakeTx rolls campaign writes back when fn fails, or when commitErr is set.
type fakeTx struct {
	campaigns *memCampaigns
	calls     int
	commitErr error
}

func (t *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	var snapshot []models.Campaign
	if t.campaigns != nil {
		snapshot = t.campaigns.snapshot()
	}
	err := fn(ctx)
	if err == nil {
		err = t.commitErr
	}
	if err != nil {
		if t.campaigns != nil {
			t.campaigns.restore(snapshot)
		}
		return err
	}
	return nil
}

type fakeJob struct {
	cron   string
	window scheduler.Window
	paused bool
}

type fakeScheduler struct {
	mu          sync.Mutex
	jobs        map[string]*fakeJob
	scheduleErr error
	cancelErr   error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]*fakeJob)}
}

func (s *fakeScheduler) ScheduleRecurring(jobID, cronExpr string, window scheduler.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduleErr != nil {
		return s.scheduleErr
	}
	s.jobs[jobID] = &fakeJob{cron: cronExpr, window: window}
	return nil
}

func (s *fakeScheduler) Pause(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return scheduler.ErrJobNotFound
	}
	j.paused = true
	return nil
}

func (s *fakeScheduler) Resume(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return scheduler.ErrJobNotFound
	}
	j.paused = false
	return nil
}

func (s *fakeScheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	if _, ok := s.jobs[jobID]; !ok {
		return scheduler.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *fakeScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// restart drops every job, as a fresh process would.
func (s *fakeScheduler) restart() {
	s.mu.Lock()
	s.jobs = make(map[string]*fakeJob)
	s.mu.Unlock()
}

func (s *fakeScheduler) Paused(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return ok && j.paused
}

func (s *fakeScheduler) job(jobID string) *fakeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID]
}

type fakeDispatcher struct {
	mu        sync.Mutex
	requests  []*DeliveryRequest
	full      bool
	onOutcome OutcomeHandler
}

func (d *fakeDispatcher) Dispatch(request *DeliveryRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return utils.ErrQueueFull
	}
	d.requests = append(d.requests, request)
	return nil
}

func (d *fakeDispatcher) SetOutcomeHandler(handler OutcomeHandler) { d.onOutcome = handler }
func (d *fakeDispatcher) Start(context.Context) {}
func (d *fakeDispatcher) Stop() {}

func (d *fakeDispatcher) dispatched() []*DeliveryRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*DeliveryRequest(nil), d.requests...)
}

type fakeProvider struct {
	mu       sync.Mutex
	name     string
	requests []*push.NotificationRequest
	err      error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) SendNotification(_ context.Context, request *push.NotificationRequest) (*push.NotificationResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return &push.NotificationResponse{MessageID: p.name + "-msg", Success: true, Token: request.Token}, nil
}

func (p *fakeProvider) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }
