package handlers

import (
	"strconv"

	"geoengage/internal/models"
	"geoengage/internal/services"
	"geoengage/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	defaultProximityRadius = 200.0
	maxProximityRadius     = 50000.0
)

type PlaceHandler struct {
	placeService services.PlaceAssociationService
}

func NewPlaceHandler(placeService services.PlaceAssociationService) *PlaceHandler {
	return &PlaceHandler{
		placeService: placeService,
	}
}

// ListPlaces lists clustered places filtered by device and/or company
func (h *PlaceHandler) ListPlaces(c *gin.Context) {
	filter := &models.PlaceFilter{}

	if raw := c.Query("device_id"); raw != "" {
		deviceID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid device ID")
			return
		}
		filter.DeviceID = &deviceID
	}

	if raw := c.Query("company_id"); raw != "" {
		companyID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid company ID")
			return
		}
		filter.CompanyID = &companyID
	}

	params := utils.GetPaginationParams(c, "last_visited_at", "visit_count", "created_at", "_id")

	places, total, err := h.placeService.ListPlaces(c.Request.Context(), filter, params)
	if err != nil {
		utils.ServiceErrorResponse(c, "Places", err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Places retrieved", places, &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
		Total:      total,
		Count:      len(places),
	})
}

// GetStoreProximity reports clustering activity around a store
func (h *PlaceHandler) GetStoreProximity(c *gin.Context) {
	storeID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid store ID")
		return
	}

	radius := defaultProximityRadius
	if raw := c.Query("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > maxProximityRadius {
			utils.BadRequestResponse(c, "Invalid radius")
			return
		}
	}

	stats, err := h.placeService.StoreProximity(c.Request.Context(), storeID, radius)
	if err != nil {
		utils.ServiceErrorResponse(c, "Store", err)
		return
	}

	utils.SuccessResponse(c, "Proximity retrieved", stats)
}
