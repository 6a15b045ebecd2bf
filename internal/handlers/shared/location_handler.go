package handlers

import (
	"geoengage/internal/models"
	"geoengage/internal/services"
	"geoengage/internal/utils"

	"github.com/gin-gonic/gin"
)

type LocationHandler struct {
	disseminationService services.DisseminationService
}

func NewLocationHandler(disseminationService services.DisseminationService) *LocationHandler {
	return &LocationHandler{
		disseminationService: disseminationService,
	}
}

// ReportLocation stores a device ping and runs the live targeting path
func (h *LocationHandler) ReportLocation(c *gin.Context) {
	var update models.LocationUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if !utils.IsValidCoordinates(update.Latitude, update.Longitude) {
		utils.BadRequestResponse(c, "Invalid coordinates")
		return
	}

	decision, err := h.disseminationService.HandleLocationUpdate(c.Request.Context(), &update)
	if err != nil {
		utils.ServiceErrorResponse(c, "Device", err)
		return
	}

	utils.SuccessResponse(c, "Location processed", decision)
}
