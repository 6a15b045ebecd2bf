package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"geoengage/internal/models"
	"geoengage/internal/services"
	"geoengage/internal/utils"
	"geoengage/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventHandler consumes location and outcome events from the message
// brokers.
type EventHandler struct {
	disseminationService services.DisseminationService
	logger               *logger.Logger
}

func NewEventHandler(disseminationService services.DisseminationService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		disseminationService: disseminationService,
		logger:               log.WithField("component", "event_handler"),
	}
}

// HandleLocation accepts a LocationUpdate payload. On MQTT topics of the
// form devices/<id>/location the device id may be omitted from the payload.
func (h *EventHandler) HandleLocation(ctx context.Context, subject string, payload []byte) error {
	var update models.LocationUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("failed to decode location event: %w", err)
	}

	if update.DeviceID.IsZero() {
		deviceID, ok := deviceIDFromTopic(subject)
		if !ok {
			return fmt.Errorf("location event on %s has no device id", subject)
		}
		update.DeviceID = deviceID
	}

	if !utils.IsValidCoordinates(update.Latitude, update.Longitude) {
		return fmt.Errorf("location event for %s has invalid coordinates", update.DeviceID.Hex())
	}

	decision, err := h.disseminationService.HandleLocationUpdate(ctx, &update)
	if err != nil {
		return err
	}

	h.logger.WithDeviceID(update.DeviceID).WithField("reason", decision.Reason).Debug("Location event processed")
	return nil
}

func (h *EventHandler) HandleOutcome(ctx context.Context, _ string, payload []byte) error {
	var outcome models.OutcomeCallback
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return fmt.Errorf("failed to decode outcome event: %w", err)
	}
	if outcome.AttemptID == "" || !outcome.Status.IsFinal() {
		return fmt.Errorf("outcome event is missing attempt id or final status")
	}

	return h.disseminationService.HandleOutcome(ctx, &outcome)
}

func deviceIDFromTopic(topic string) (primitive.ObjectID, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[2] != "location" {
		return primitive.NilObjectID, false
	}

	id, err := primitive.ObjectIDFromHex(parts[1])
	if err != nil {
		return primitive.NilObjectID, false
	}
	return id, true
}
