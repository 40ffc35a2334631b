package service

import (
	"context"

	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// AlertService handles business logic for geofence alerts
type AlertService struct {
	repo *repository.AlertRepository
}

// NewAlertService creates a new alert service
func NewAlertService(repo *repository.AlertRepository) *AlertService {
	return &AlertService{repo: repo}
}

// List returns the entity's alerts, newest first.
func (s *AlertService) List(ctx context.Context, entityID string, filter models.AlertFilter) ([]models.AlertEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAlertLimit
	}
	if filter.Limit > maxAlertLimit {
		filter.Limit = maxAlertLimit
	}
	return s.repo.ListForEntity(ctx, entityID, filter.Unacknowledged, filter.Limit)
}

// Acknowledge marks an alert as seen.
func (s *AlertService) Acknowledge(ctx context.Context, id int64) (*models.AlertEvent, error) {
	return s.repo.Acknowledge(ctx, id)
}
