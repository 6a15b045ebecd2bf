package handlers

import (
	"context"

	"geoengage/internal/services"
	"geoengage/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CampaignHandler struct {
	disseminationService services.DisseminationService
}

func NewCampaignHandler(disseminationService services.DisseminationService) *CampaignHandler {
	return &CampaignHandler{
		disseminationService: disseminationService,
	}
}

func (h *CampaignHandler) StartCampaign(c *gin.Context) {
	h.transition(c, "Campaign started", h.disseminationService.StartCampaign)
}

func (h *CampaignHandler) PauseCampaign(c *gin.Context) {
	h.transition(c, "Campaign paused", h.disseminationService.PauseCampaign)
}

func (h *CampaignHandler) CompleteCampaign(c *gin.Context) {
	h.transition(c, "Campaign completed", h.disseminationService.CompleteCampaign)
}

// DeleteDissemination removes the campaign and cancels its scheduled job
func (h *CampaignHandler) DeleteDissemination(c *gin.Context) {
	h.transition(c, "Dissemination deleted", h.disseminationService.DeleteDissemination)
}

func (h *CampaignHandler) transition(c *gin.Context, message string, apply func(ctx context.Context, id primitive.ObjectID) error) {
	campaignID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid campaign ID")
		return
	}

	if err := apply(c.Request.Context(), campaignID); err != nil {
		utils.ServiceErrorResponse(c, "Campaign", err)
		return
	}

	utils.SuccessResponse(c, message, gin.H{"campaign_id": campaignID.Hex()})
}
