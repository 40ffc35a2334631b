package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/service"
	"github.com/onichip/pettrack-backend-go/pkg/response"
)

// LocationHandler handles HTTP requests for device reports and location history
type LocationHandler struct {
	ingestion *service.IngestionService
	locations *service.LocationService
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(ingestion *service.IngestionService, locations *service.LocationService) *LocationHandler {
	return &LocationHandler{ingestion: ingestion, locations: locations}
}

// Receive handles PUT /api/v1/entities/:entityId/location
func (h *LocationHandler) Receive(c *gin.Context) {
	var payload models.LocationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "Invalid location payload: "+err.Error())
		return
	}

	result, err := h.ingestion.Receive(c.Request.Context(), c.Param("entityId"), payload)
	if err != nil {
		response.FromError(c, err)
		return
	}
	RespondIngestion(c, result)
}

// RespondIngestion writes a partial-success ingestion result. The status
// is 200 when any part of the report was stored, otherwise the status of
// the first collected error.
func RespondIngestion(c *gin.Context, result *models.IngestionResult) {
	if result.Fix == nil && result.Telemetry == nil && len(result.Errors) > 0 {
		status := response.StatusOf(result.Errors[0])
		c.JSON(status, response.Response{Code: status, Message: result.Errors[0].Error(), Data: result})
		return
	}
	response.Success(c, result)
}

// List handles GET /api/v1/entities/:entityId/locations
func (h *LocationHandler) List(c *gin.Context) {
	var filter models.LocationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	fixes, err := h.locations.History(c.Request.Context(), c.Param("entityId"), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"data":  fixes,
		"total": len(fixes),
	})
}

// Latest handles GET /api/v1/entities/:entityId/location/latest
func (h *LocationHandler) Latest(c *gin.Context) {
	lk, err := h.locations.LastKnown(c.Request.Context(), c.Param("entityId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, lk)
}

type wifiLocateRequest struct {
	EntityID         string               `json:"entityId"`
	WifiAccessPoints []models.AccessPoint `json:"wifiAccessPoints" binding:"required,min=1"`
}

// ResolveWifi handles POST /api/v1/location/wifi
func (h *LocationHandler) ResolveWifi(c *gin.Context) {
	var req wifiLocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "wifiAccessPoints must be a non-empty list")
		return
	}

	res, err := h.ingestion.ResolveWifi(c.Request.Context(), req.EntityID, req.WifiAccessPoints)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

type hybridLocateRequest struct {
	EntityID         string               `json:"entityId"`
	WifiAccessPoints []models.AccessPoint `json:"wifiAccessPoints"`
	CellTowers       []models.CellTower   `json:"cellTowers"`
	RadioType        string               `json:"radioType"`
}

// ResolveHybrid handles POST /api/v1/location/hybrid. Either list may be
// empty, but not both.
func (h *LocationHandler) ResolveHybrid(c *gin.Context) {
	var req hybridLocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid scan: "+err.Error())
		return
	}
	scan := models.RadioScan{
		AccessPoints: req.WifiAccessPoints,
		CellTowers:   req.CellTowers,
		RadioType:    strings.ToLower(strings.TrimSpace(req.RadioType)),
	}
	if scan.Empty() {
		response.BadRequest(c, "wifiAccessPoints or cellTowers must be a non-empty list")
		return
	}
	if scan.RadioType != "" && !models.ValidRadioType(scan.RadioType) {
		response.BadRequest(c, "unknown radioType "+scan.RadioType)
		return
	}

	res, err := h.ingestion.ResolveScan(c.Request.Context(), req.EntityID, scan)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}
