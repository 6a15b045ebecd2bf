package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoengage/internal/models"
	"geoengage/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type matcherFixture struct {
	stores    *memStores
	campaigns *memCampaigns
	attempts  *memAttempts
	matcher   GeofenceMatcher
	company   primitive.ObjectID
	store     *models.Store
	device    *models.Device
	now       time.Time
}

func newMatcherFixture(t *testing.T) *matcherFixture {
	t.Helper()

	f := &matcherFixture{
		stores:    &memStores{},
		campaigns: &memCampaigns{},
		attempts:  newMemAttempts(),
		company:   primitive.NewObjectID(),
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = &models.Store{CompanyID: f.company, Name: "Main", Location: models.NewLocation(42.0, 42.0)}
	require.NoError(t, f.stores.Create(context.Background(), f.store))

	f.device = &models.Device{
		ID:         primitive.NewObjectID(),
		CompanyID:  f.company,
		ClientID:   "client-1",
		PushToken:  "token",
		Platform:   models.DevicePlatformAndroid,
		Attributes: map[string]interface{}{"segment": "gold"},
	}

	guard := NewRateLimitService(testTargetingConfig(), f.attempts, newMemDeviceWindows())
	f.matcher = NewGeofenceMatcher(testTargetingConfig(), f.stores, f.campaigns, guard, NewAttributeFilter(logger.NewNop()), logger.NewNop())
	return f
}

func (f *matcherFixture) campaign(t *testing.T, mutate func(c *models.Campaign)) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ID:           primitive.NewObjectID(),
		CompanyID:    f.company,
		Kind:         models.CampaignKindGeofence,
		State:        models.CampaignStateRunning,
		RadiusMeters: 500,
		StoreIDs:     []primitive.ObjectID{f.store.ID},
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.campaigns.Create(context.Background(), c))
	return c
}

func (f *matcherFixture) match(t *testing.T, lat, lng float64) *models.Campaign {
	t.Helper()
	campaign, err := f.matcher.Match(context.Background(), f.device, lat, lng, f.now)
	require.NoError(t, err)
	return campaign
}

func TestMatchReturnsEligibleCampaign(t *testing.T) {
	f := newMatcherFixture(t)
	want := f.campaign(t, nil)

	got := f.match(t, 42.001, 42.001)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
}

func TestMatchNoStoresNearby(t *testing.T) {
	f := newMatcherFixture(t)
	f.campaign(t, nil)

	assert.Nil(t, f.match(t, 10, 10))
}

func TestMatchNeverReturnsOtherCompany(t *testing.T) {
	f := newMatcherFixture(t)
	f.campaign(t, func(c *models.Campaign) {
		c.CompanyID = primitive.NewObjectID()
		c.Priority = 100
	})
	own := f.campaign(t, func(c *models.Campaign) { c.Priority = 1 })

	got := f.match(t, 42.0, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, own.ID, got.ID)
}

func TestMatchRadiusIsPerCampaign(t *testing.T) {
	f := newMatcherFixture(t)
	// About 140m from the store.
	lat, lng := 42.001, 42.001

	f.campaign(t, func(c *models.Campaign) {
		c.RadiusMeters = 100
		c.Priority = 10
	})
	wide := f.campaign(t, func(c *models.Campaign) { c.RadiusMeters = 200 })

	got := f.match(t, lat, lng)
	require.NotNil(t, got)
	assert.Equal(t, wide.ID, got.ID)
}

func TestMatchThroughPartner(t *testing.T) {
	f := newMatcherFixture(t)
	partner := primitive.NewObjectID()
	f.store.PartnerID = &partner

	byPartner := f.campaign(t, func(c *models.Campaign) {
		c.StoreIDs = nil
		c.PartnerIDs = []primitive.ObjectID{partner}
	})

	got := f.match(t, 42.0, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, byPartner.ID, got.ID)
}

func TestMatchRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *matcherFixture, c *models.Campaign)
	}{
		{"paused", func(_ *matcherFixture, c *models.Campaign) { c.State = models.CampaignStatePause }},
		{"draft", func(_ *matcherFixture, c *models.Campaign) { c.State = models.CampaignStateDraft }},
		{"not started", func(f *matcherFixture, c *models.Campaign) { c.StartAt = timePtr(f.now.Add(time.Hour)) }},
		{"start is exclusive", func(f *matcherFixture, c *models.Campaign) { c.StartAt = timePtr(f.now) }},
		{"ended", func(f *matcherFixture, c *models.Campaign) { c.EndAt = timePtr(f.now.Add(-time.Second)) }},
		{"filter false", func(_ *matcherFixture, c *models.Campaign) { c.Filter = `segment == "silver"` }},
		{"filter broken", func(_ *matcherFixture, c *models.Campaign) { c.Filter = `segment ==` }},
		{"client not allowed", func(_ *matcherFixture, c *models.Campaign) { c.ClientIDs = []string{"client-2"} }},
		{"total exhausted", func(f *matcherFixture, c *models.Campaign) {
			c.TotalLimit = intPtr(1)
			f.attempts.add(c.ID, primitive.NewObjectID(), 1)
		}},
		{"device exhausted", func(f *matcherFixture, c *models.Campaign) {
			c.DeviceLimit = intPtr(1)
			f.attempts.add(c.ID, f.device.ID, 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMatcherFixture(t)
			f.campaign(t, func(c *models.Campaign) { tt.mutate(f, c) })
			assert.Nil(t, f.match(t, 42.0, 42.0))
		})
	}
}

func TestMatchEndIsInclusive(t *testing.T) {
	f := newMatcherFixture(t)
	c := f.campaign(t, func(c *models.Campaign) {
		c.StartAt = timePtr(f.now.Add(-time.Hour))
		c.EndAt = timePtr(f.now)
	})

	got := f.match(t, 42.0, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
}

func TestMatchAllowListRejectsDeviceWithoutClient(t *testing.T) {
	f := newMatcherFixture(t)
	f.device.ClientID = ""
	f.campaign(t, func(c *models.Campaign) { c.ClientIDs = []string{"client-1"} })

	assert.Nil(t, f.match(t, 42.0, 42.0))
}

func TestMatchHighestPriorityWins(t *testing.T) {
	f := newMatcherFixture(t)
	f.campaign(t, func(c *models.Campaign) { c.Priority = 1 })
	high := f.campaign(t, func(c *models.Campaign) { c.Priority = 9 })
	f.campaign(t, func(c *models.Campaign) { c.Priority = 5 })

	got := f.match(t, 42.0, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, high.ID, got.ID)
}

func TestMatchPriorityTieIsStable(t *testing.T) {
	f := newMatcherFixture(t)
	first := f.campaign(t, func(c *models.Campaign) { c.Priority = 3 })
	f.campaign(t, func(c *models.Campaign) { c.Priority = 3 })

	for i := 0; i < 20; i++ {
		got := f.match(t, 42.0, 42.0)
		require.NotNil(t, got)
		assert.Equal(t, first.ID, got.ID)
	}
}

func TestMatchPriorityTieBreaksOnLowestID(t *testing.T) {
	f := newMatcherFixture(t)
	lower, higher := primitive.NewObjectID(), primitive.NewObjectID()
	f.campaign(t, func(c *models.Campaign) { c.ID = higher; c.Priority = 3 })
	f.campaign(t, func(c *models.Campaign) { c.ID = lower; c.Priority = 3 })

	got := f.match(t, 42.0, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, lower, got.ID, "insertion order does not decide ties")
}

func TestMatchReachesBeyondSearchRadius(t *testing.T) {
	f := newMatcherFixture(t)
	wide := f.campaign(t, func(c *models.Campaign) { c.RadiusMeters = 15000 })
	f.campaign(t, func(c *models.Campaign) { c.RadiusMeters = 500; c.Priority = 10 })

	// About 10 km north of the store, past the 5 km search radius.
	got := f.match(t, 42.09, 42.0)
	require.NotNil(t, got)
	assert.Equal(t, wide.ID, got.ID)
}

func TestMatchSearchRadiusIgnoresStoppedWideCampaigns(t *testing.T) {
	f := newMatcherFixture(t)
	f.campaign(t, func(c *models.Campaign) {
		c.RadiusMeters = 15000
		c.State = models.CampaignStatePause
	})
	f.campaign(t, nil)

	assert.Nil(t, f.match(t, 42.09, 42.0))
}

func TestMatchRepositoryErrorIsReturned(t *testing.T) {
	f := newMatcherFixture(t)
	f.campaign(t, nil)
	f.campaigns.findErr = errors.New("connection reset")

	_, err := f.matcher.Match(context.Background(), f.device, 42.0, 42.0, f.now)
	assert.Error(t, err)
}
