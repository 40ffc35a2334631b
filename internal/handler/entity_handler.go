package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/onichip/pettrack-backend-go/internal/middleware"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/service"
	"github.com/onichip/pettrack-backend-go/pkg/response"
)

// EntityHandler handles HTTP requests for the entity directory
type EntityHandler struct {
	service *service.EntityService
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(service *service.EntityService) *EntityHandler {
	return &EntityHandler{service: service}
}

type registerEntityRequest struct {
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
}

// Register handles PUT /api/v1/entities/:entityId
func (h *EntityHandler) Register(c *gin.Context) {
	var req registerEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid entity: "+err.Error())
		return
	}

	entity, err := h.service.Register(c.Request.Context(), middleware.Subject(c), models.Entity{
		ID:      c.Param("entityId"),
		OwnerID: req.OwnerID,
		Name:    req.Name,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entity)
}
