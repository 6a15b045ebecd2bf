package utils

import (
	"github.com/golang/geo/s2"
)

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

func IsWithinRadius(centerLat, centerLon, pointLat, pointLon, radiusMeters float64) bool {
	return DistanceMeters(centerLat, centerLon, pointLat, pointLon) <= radiusMeters
}

// MetersToRadians converts a surface distance into the angle used by
// $centerSphere queries.
func MetersToRadians(meters float64) float64 {
	return meters / EarthRadiusMeters
}
