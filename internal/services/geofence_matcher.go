package services

import (
	"bytes"
	"context"
	"sort"
	"time"

	"geoengage/internal/config"
	"geoengage/internal/models"
	"geoengage/internal/repositories/interfaces"
	"geoengage/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type GeofenceMatcher interface {
	// Match returns the campaign that may notify device at the given position
	// and instant, or nil when none qualifies.
	Match(ctx context.Context, device *models.Device, lat, lng float64, at time.Time) (*models.Campaign, error)
}

type geofenceCandidate struct {
	campaign *models.Campaign
	distance float64
}

type geofenceMatcher struct {
	storeRepo    interfaces.StoreRepository
	campaignRepo interfaces.CampaignRepository
	rateLimit    RateLimitService
	filter       *AttributeFilter
	minRadius    float64
	logger       *logger.Logger
}

func NewGeofenceMatcher(
	cfg *config.TargetingConfig,
	storeRepo interfaces.StoreRepository,
	campaignRepo interfaces.CampaignRepository,
	rateLimit RateLimitService,
	filter *AttributeFilter,
	log *logger.Logger,
) GeofenceMatcher {
	return &geofenceMatcher{
		storeRepo:    storeRepo,
		campaignRepo: campaignRepo,
		rateLimit:    rateLimit,
		filter:       filter,
		minRadius:    cfg.GeofenceSearchRadiusMeters,
		logger:       log.WithField("service", "geofence_matcher"),
	}
}

func (m *geofenceMatcher) Match(ctx context.Context, device *models.Device, lat, lng float64, at time.Time) (*models.Campaign, error) {
	candidates, err := m.candidates(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	log := m.logger.WithDeviceID(device.ID)
	eligible := make([]*models.Campaign, 0, len(candidates))

	for _, candidate := range candidates {
		campaign := candidate.campaign
		reject := func(reason string) {
			log.WithCampaignID(campaign.ID).WithField("reason", reason).Debug("Campaign rejected")
		}

		if candidate.distance > campaign.RadiusMeters {
			reject("outside_radius")
			continue
		}
		if campaign.CompanyID != device.CompanyID {
			reject("other_company")
			continue
		}
		if campaign.State != models.CampaignStateRunning {
			reject("not_running")
			continue
		}

		total, err := m.rateLimit.CheckCampaignTotal(ctx, campaign)
		if err != nil {
			return nil, err
		}
		if total.Failed {
			reject(total.Reason)
			continue
		}

		perDevice, err := m.rateLimit.CheckCampaignDevice(ctx, campaign, device.ID)
		if err != nil {
			return nil, err
		}
		if perDevice.Failed {
			reject(perDevice.Reason)
			continue
		}

		if !campaign.ActiveAt(at) {
			reject("outside_window")
			continue
		}
		if !m.filter.Matches(campaign, device) {
			reject("filter")
			continue
		}
		if !campaign.AllowsClient(device.ClientID) {
			reject("client_not_allowed")
			continue
		}

		eligible = append(eligible, campaign)
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return bytes.Compare(eligible[i].ID[:], eligible[j].ID[:]) < 0
	})
	return eligible[0], nil
}

// candidates loads the GEOFENCE campaigns attached to stores, or to the
// partners of stores, within reach of the widest running campaign. Each
// campaign appears once with the distance of its closest store.
func (m *geofenceMatcher) candidates(ctx context.Context, lat, lng float64) ([]*geofenceCandidate, error) {
	radius, err := m.campaignRepo.MaxGeofenceRadius(ctx)
	if err != nil {
		return nil, err
	}
	if radius < m.minRadius {
		radius = m.minRadius
	}

	stores, err := m.storeRepo.FindNear(ctx, lat, lng, radius)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, nil
	}

	storeDistance := make(map[primitive.ObjectID]float64, len(stores))
	partnerDistance := make(map[primitive.ObjectID]float64)
	storeIDs := make([]primitive.ObjectID, 0, len(stores))
	var partnerIDs []primitive.ObjectID

	for _, s := range stores {
		keepMin(storeDistance, s.Store.ID, s.DistanceMeters, &storeIDs)
		if s.Store.PartnerID != nil {
			keepMin(partnerDistance, *s.Store.PartnerID, s.DistanceMeters, &partnerIDs)
		}
	}

	campaigns, err := m.campaignRepo.FindGeofenceByTargets(ctx, storeIDs, partnerIDs)
	if err != nil {
		return nil, err
	}

	index := make(map[primitive.ObjectID]*geofenceCandidate, len(campaigns))
	var candidates []*geofenceCandidate

	for _, campaign := range campaigns {
		distance, ok := campaignDistance(campaign, storeDistance, partnerDistance)
		if !ok {
			continue
		}

		if existing, seen := index[campaign.ID]; seen {
			if distance < existing.distance {
				existing.distance = distance
			}
			continue
		}

		candidate := &geofenceCandidate{campaign: campaign, distance: distance}
		index[campaign.ID] = candidate
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func keepMin(distances map[primitive.ObjectID]float64, id primitive.ObjectID, distance float64, ids *[]primitive.ObjectID) {
	current, seen := distances[id]
	if !seen {
		*ids = append(*ids, id)
		distances[id] = distance
		return
	}
	if distance < current {
		distances[id] = distance
	}
}

func campaignDistance(campaign *models.Campaign, stores, partners map[primitive.ObjectID]float64) (float64, bool) {
	best, found := 0.0, false
	consider := func(d float64) {
		if !found || d < best {
			best, found = d, true
		}
	}

	for _, id := range campaign.StoreIDs {
		if d, ok := stores[id]; ok {
			consider(d)
		}
	}
	for _, id := range campaign.PartnerIDs {
		if d, ok := partners[id]; ok {
			consider(d)
		}
	}

	return best, found
}
