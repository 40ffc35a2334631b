package service

import (
	"context"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

// LocationService handles read access to location history
type LocationService struct {
	history   *repository.LocationRepository
	lastKnown *repository.LastKnownRepository
	limits    config.HistoryConfig
}

// NewLocationService creates a new location service
func NewLocationService(history *repository.LocationRepository, lastKnown *repository.LastKnownRepository,
	limits config.HistoryConfig) *LocationService {
	return &LocationService{history: history, lastKnown: lastKnown, limits: limits}
}

// History returns the entity's fixes, most recent first, within the
// optional window. The limit is clamped to the configured maximum.
func (s *LocationService) History(ctx context.Context, entityID string, filter models.LocationFilter) ([]models.Fix, error) {
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return nil, apperr.InvalidPayload("endTime is before startTime")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = s.limits.DefaultLimit
	}
	if limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}
	return s.history.List(ctx, entityID, filter.StartTime, filter.EndTime, limit)
}

// LastKnown returns the entity's last known location projection.
func (s *LocationService) LastKnown(ctx context.Context, entityID string) (*models.LastKnownLocation, error) {
	lk, err := s.lastKnown.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if lk == nil {
		return nil, apperr.NotFound("no location recorded for %s", entityID)
	}
	return lk, nil
}
