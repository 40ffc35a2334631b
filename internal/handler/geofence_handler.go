package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/onichip/pettrack-backend-go/internal/middleware"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/service"
	"github.com/onichip/pettrack-backend-go/pkg/response"
)

// GeofenceHandler handles HTTP requests for geofence zones
type GeofenceHandler struct {
	service *service.GeofenceService
}

// NewGeofenceHandler creates a new geofence handler
func NewGeofenceHandler(service *service.GeofenceService) *GeofenceHandler {
	return &GeofenceHandler{service: service}
}

// Create handles POST /api/v1/geofences
func (h *GeofenceHandler) Create(c *gin.Context) {
	var req models.CreateGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid geofence: "+err.Error())
		return
	}

	zone, err := h.service.Create(c.Request.Context(), middleware.Subject(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, zone)
}

// Update handles PUT /api/v1/geofences/:zoneId
func (h *GeofenceHandler) Update(c *gin.Context) {
	var req models.UpdateGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid geofence update: "+err.Error())
		return
	}

	zone, err := h.service.Update(c.Request.Context(), middleware.Subject(c), c.Param("zoneId"), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, zone)
}

// Delete handles DELETE /api/v1/geofences/:zoneId
func (h *GeofenceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), middleware.Subject(c), c.Param("zoneId")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("zoneId"), "active": false})
}

// ListForEntity handles GET /api/v1/entities/:entityId/geofences
func (h *GeofenceHandler) ListForEntity(c *gin.Context) {
	zones, err := h.service.ListForEntity(c.Request.Context(), c.Param("entityId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, zones)
}

// ListForOwner handles GET /api/v1/owners/:ownerId/geofences
func (h *GeofenceHandler) ListForOwner(c *gin.Context) {
	owner := c.Param("ownerId")
	if subject := middleware.Subject(c); subject != "" && subject != owner {
		response.Error(c, http.StatusForbidden, "Cannot list another owner's geofences")
		return
	}

	zones, err := h.service.ListForOwner(c.Request.Context(), owner)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, zones)
}

// Stats handles GET /api/v1/geofences/:zoneId/stats
func (h *GeofenceHandler) Stats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "0"))
	if err != nil || days < 0 {
		response.BadRequest(c, "Invalid days parameter")
		return
	}

	report, err := h.service.Stats(c.Request.Context(), c.Param("zoneId"), days)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}
