package services

import (
	"time"

	"geoengage/internal/models"
	"geoengage/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Classification string

const (
	ClassificationNewPlace Classification = "new_place"
	ClassificationNoise    Classification = "noise"
	ClassificationRevisit  Classification = "revisit"
)

// DistanceFunc returns the distance in meters between two coordinates.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

type ClusterResult struct {
	Place          *models.Place
	Classification Classification
	Accepted       bool
	Created        bool
}

// PlaceClusterer classifies a single ping against the places already known
// for its device. It holds no state between calls.
type PlaceClusterer struct {
	maxDistanceMeters float64
	noiseWindow       time.Duration
	distance          DistanceFunc
}

func NewPlaceClusterer(maxDistanceMeters float64, noiseWindow time.Duration) *PlaceClusterer {
	return &PlaceClusterer{
		maxDistanceMeters: maxDistanceMeters,
		noiseWindow:       noiseWindow,
		distance:          utils.DistanceMeters,
	}
}

func (c *PlaceClusterer) WithDistanceFunc(fn DistanceFunc) *PlaceClusterer {
	clone := *c
	clone.distance = fn
	return &clone
}

// Classify decides whether ping opens a new place, is noise around the
// nearest place, or revisits it. A revisit mutates the returned place in
// place; noise leaves it untouched. A created place is not added to places.
func (c *PlaceClusterer) Classify(ping *models.GeoPosition, places []*models.Place) *ClusterResult {
	nearest, spatial, temporal := c.nearest(ping, places)
	if nearest == nil || spatial > c.maxDistanceMeters {
		return &ClusterResult{
			Place:          newPlaceFromPing(ping),
			Classification: ClassificationNewPlace,
			Accepted:       true,
			Created:        true,
		}
	}

	if temporal <= c.noiseWindow {
		return &ClusterResult{
			Place:          nearest,
			Classification: ClassificationNoise,
		}
	}

	nearest.VisitCount++
	nearest.LastVisitedAt = ping.CapturedAt
	return &ClusterResult{
		Place:          nearest,
		Classification: ClassificationRevisit,
		Accepted:       true,
	}
}

// nearest picks the place with the smallest spatial distance, then the
// smallest temporal distance, then the earliest position in places.
func (c *PlaceClusterer) nearest(ping *models.GeoPosition, places []*models.Place) (*models.Place, float64, time.Duration) {
	var (
		best         *models.Place
		bestSpatial  float64
		bestTemporal time.Duration
	)

	for _, place := range places {
		spatial := c.distance(place.Latitude, place.Longitude, ping.Latitude, ping.Longitude)
		temporal := absDuration(place.LastVisitedAt.Sub(ping.CapturedAt))

		if best == nil ||
			spatial < bestSpatial ||
			(spatial == bestSpatial && temporal < bestTemporal) {
			best = place
			bestSpatial = spatial
			bestTemporal = temporal
		}
	}

	return best, bestSpatial, bestTemporal
}

func newPlaceFromPing(ping *models.GeoPosition) *models.Place {
	return &models.Place{
		ID:            primitive.NewObjectID(),
		DeviceID:      ping.DeviceID,
		CompanyID:     ping.CompanyID,
		Latitude:      ping.Latitude,
		Longitude:     ping.Longitude,
		Location:      models.NewLocation(ping.Latitude, ping.Longitude),
		LastVisitedAt: ping.CapturedAt,
		VisitCount:    1,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
