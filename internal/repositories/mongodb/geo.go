package mongodb

import (
	"geoengage/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
)

// withinRadius builds a $geoWithin filter on the location field. Unlike
// $near it can be used with CountDocuments and Distinct.
func withinRadius(lat, lng, radiusMeters float64) bson.M {
	return bson.M{
		"location": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{
					bson.A{lng, lat},
					utils.MetersToRadians(radiusMeters),
				},
			},
		},
	}
}
