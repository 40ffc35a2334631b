package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/service"
	"github.com/onichip/pettrack-backend-go/pkg/response"
)

// AlertHandler handles HTTP requests for geofence alerts
type AlertHandler struct {
	service *service.AlertService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(service *service.AlertService) *AlertHandler {
	return &AlertHandler{service: service}
}

// List handles GET /api/v1/entities/:entityId/alerts
func (h *AlertHandler) List(c *gin.Context) {
	var filter models.AlertFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	alerts, err := h.service.List(c.Request.Context(), c.Param("entityId"), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, alerts)
}

// Acknowledge handles POST /api/v1/alerts/:alertId/ack
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("alertId"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid alert ID")
		return
	}

	alert, err := h.service.Acknowledge(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, alert)
}
