package handlers

import (
	"geoengage/internal/models"
	"geoengage/internal/services"
	"geoengage/internal/utils"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	disseminationService services.DisseminationService
}

func NewNotificationHandler(disseminationService services.DisseminationService) *NotificationHandler {
	return &NotificationHandler{
		disseminationService: disseminationService,
	}
}

// ReportOutcome records the delivery result of a notification attempt
func (h *NotificationHandler) ReportOutcome(c *gin.Context) {
	var outcome models.OutcomeCallback
	if err := c.ShouldBindJSON(&outcome); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if !outcome.Status.IsFinal() {
		utils.BadRequestResponse(c, "Status must be SENT or FAILED")
		return
	}

	if err := h.disseminationService.HandleOutcome(c.Request.Context(), &outcome); err != nil {
		utils.ServiceErrorResponse(c, "Notification attempt", err)
		return
	}

	utils.SuccessResponse(c, "Outcome recorded", nil)
}
