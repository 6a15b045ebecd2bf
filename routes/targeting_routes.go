package routes

import (
	handlers "geoengage/internal/handlers/shared"

	"github.com/gin-gonic/gin"
)

// SetupLocationRoutes sets up the location ingestion routes
func SetupLocationRoutes(r *gin.RouterGroup, locationHandler *handlers.LocationHandler) {
	r.POST("/locations", locationHandler.ReportLocation)
}

// SetupNotificationRoutes sets up the delivery outcome callback
func SetupNotificationRoutes(r *gin.RouterGroup, notificationHandler *handlers.NotificationHandler) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("/outcome", notificationHandler.ReportOutcome)
	}
}

// SetupPlaceRoutes sets up the place query routes
func SetupPlaceRoutes(r *gin.RouterGroup, placeHandler *handlers.PlaceHandler) {
	r.GET("/places", placeHandler.ListPlaces)

	stores := r.Group("/stores")
	{
		stores.GET("/:id/proximity", placeHandler.GetStoreProximity)
	}
}

// SetupCampaignRoutes sets up the campaign lifecycle routes
func SetupCampaignRoutes(r *gin.RouterGroup, campaignHandler *handlers.CampaignHandler) {
	campaigns := r.Group("/campaigns")
	{
		campaigns.POST("/:id/start", campaignHandler.StartCampaign)
		campaigns.POST("/:id/pause", campaignHandler.PauseCampaign)
		campaigns.POST("/:id/complete", campaignHandler.CompleteCampaign)
		campaigns.DELETE("/:id/dissemination", campaignHandler.DeleteDissemination)
	}
}
