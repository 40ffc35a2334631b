package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

const (
	statsAlertScan      = 100
	statsRecentActivity = 20
)

// EntityDirectory resolves who owns an entity.
type EntityDirectory interface {
	GetOwnerAndName(ctx context.Context, entityID string) (ownerID, name string, err error)
}

// GeofenceService handles business logic for geofence zones
type GeofenceService struct {
	zones     *repository.GeofenceRepository
	alerts    *repository.AlertRepository
	directory EntityDirectory
	defaults  config.GeofenceConfig
	locks     sync.Map // zone ID -> *sync.Mutex
	now       func() time.Time
	logger    *slog.Logger
}

// NewGeofenceService creates a new geofence service
func NewGeofenceService(zones *repository.GeofenceRepository, alerts *repository.AlertRepository,
	directory EntityDirectory, defaults config.GeofenceConfig, logger *slog.Logger) *GeofenceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeofenceService{
		zones:     zones,
		alerts:    alerts,
		directory: directory,
		defaults:  defaults,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *GeofenceService) zoneLock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// authorize checks that requester may manage zones of entityID and
// returns the entity's owner. An empty requester skips the check.
func (s *GeofenceService) authorize(ctx context.Context, requester, entityID string) (string, error) {
	owner, _, err := s.directory.GetOwnerAndName(ctx, entityID)
	if err != nil {
		return "", err
	}
	if requester != "" && owner != requester {
		return "", apperr.Forbidden("entity %s does not belong to %s", entityID, requester)
	}
	return owner, nil
}

func (s *GeofenceService) defaultAlertConfig() models.AlertConfig {
	return models.AlertConfig{
		OnEnter:                   true,
		OnExit:                    true,
		OnApproaching:             false,
		ApproachingDistanceMeters: s.defaults.ApproachingDistanceMeters,
		CooldownMinutes:           s.defaults.CooldownMinutes,
	}
}

// Create validates and stores a new zone for the requester's entity.
func (s *GeofenceService) Create(ctx context.Context, requester string, req models.CreateGeofenceRequest) (*models.GeofenceZone, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.InvalidPayload("zone name is required")
	}
	if _, err := req.Geometry.Shape(); err != nil {
		return nil, err
	}
	cfg := req.AlertConfig.ApplyTo(s.defaultAlertConfig())
	if err := validateAlertConfig(cfg); err != nil {
		return nil, err
	}
	owner, err := s.authorize(ctx, requester, req.EntityID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	zone := models.GeofenceZone{
		ID:          uuid.NewString(),
		EntityID:    req.EntityID,
		OwnerID:     owner,
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
		Geometry:    req.Geometry,
		AlertConfig: cfg,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if zone.Color == "" {
		zone.Color = models.DefaultZoneColor
	}
	if zone.Icon == "" {
		zone.Icon = models.DefaultZoneIcon
	}

	if err := s.zones.Create(ctx, zone); err != nil {
		return nil, err
	}
	s.logger.Info("geofence created", "zone", zone.ID, "entity", zone.EntityID, "type", zone.Geometry.Type)
	return &zone, nil
}

// Update applies the mutable fields of req to an active zone.
func (s *GeofenceService) Update(ctx context.Context, requester, zoneID string, req models.UpdateGeofenceRequest) (*models.GeofenceZone, error) {
	zone, err := s.activeZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(requester, zone); err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, apperr.InvalidPayload("zone name must not be empty")
		}
		zone.Name = *req.Name
	}
	if req.Description != nil {
		zone.Description = *req.Description
	}
	if req.Geometry != nil {
		if _, err := req.Geometry.Shape(); err != nil {
			return nil, err
		}
		zone.Geometry = *req.Geometry
	}
	if req.Color != nil {
		zone.Color = *req.Color
	}
	if req.Icon != nil {
		zone.Icon = *req.Icon
	}
	zone.AlertConfig = req.AlertConfig.ApplyTo(zone.AlertConfig)
	if err := validateAlertConfig(zone.AlertConfig); err != nil {
		return nil, err
	}
	zone.UpdatedAt = s.now().UTC()

	if err := s.zones.Update(ctx, *zone); err != nil {
		return nil, err
	}
	return zone, nil
}

// Delete soft-deletes an active zone. Its alerts and stats are kept.
func (s *GeofenceService) Delete(ctx context.Context, requester, zoneID string) error {
	zone, err := s.activeZone(ctx, zoneID)
	if err != nil {
		return err
	}
	if err := checkOwner(requester, zone); err != nil {
		return err
	}
	if err := s.zones.SoftDelete(ctx, zoneID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("geofence deleted", "zone", zoneID, "entity", zone.EntityID)
	return nil
}

func checkOwner(requester string, zone *models.GeofenceZone) error {
	if requester != "" && zone.OwnerID != requester {
		return apperr.Forbidden("geofence %s does not belong to %s", zone.ID, requester)
	}
	return nil
}

func (s *GeofenceService) activeZone(ctx context.Context, zoneID string) (*models.GeofenceZone, error) {
	zone, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if !zone.Active {
		return nil, apperr.NotFound("geofence %s not found or inactive", zoneID)
	}
	return zone, nil
}

// ListForEntity returns the entity's active zones in creation order.
func (s *GeofenceService) ListForEntity(ctx context.Context, entityID string) ([]models.GeofenceZone, error) {
	return s.zones.ListActiveByEntity(ctx, entityID)
}

// ListForOwner returns every active zone across the owner's entities.
func (s *GeofenceService) ListForOwner(ctx context.Context, ownerID string) ([]models.GeofenceZone, error) {
	return s.zones.ListActiveByOwner(ctx, ownerID)
}

// RecordTransition updates a zone's enter/exit counters under the zone's lock.
func (s *GeofenceService) RecordTransition(ctx context.Context, zoneID string, kind models.AlertType, at time.Time) (models.ZoneStats, error) {
	mu := s.zoneLock(zoneID)
	mu.Lock()
	defer mu.Unlock()
	return s.zones.RecordTransition(ctx, zoneID, kind, at)
}

// TryMarkApproaching reports whether an approaching alert may fire for
// the zone at `at`, and if so records it.
func (s *GeofenceService) TryMarkApproaching(ctx context.Context, zoneID string, at time.Time, cooldown time.Duration) (bool, error) {
	mu := s.zoneLock(zoneID)
	mu.Lock()
	defer mu.Unlock()
	return s.zones.TryMarkApproaching(ctx, zoneID, at, cooldown)
}

// Stats summarizes a zone's activity over the trailing days. days <= 0
// uses the configured default.
func (s *GeofenceService) Stats(ctx context.Context, zoneID string, days int) (*models.ZoneStatsReport, error) {
	if days <= 0 {
		days = s.defaults.StatsDays
	}
	if days <= 0 {
		days = 30
	}

	zone, err := s.zones.Get(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	alerts, err := s.alerts.ListForZoneSince(ctx, zoneID, since, statsAlertScan)
	if err != nil {
		return nil, err
	}

	report := &models.ZoneStatsReport{
		ZoneID:         zone.ID,
		ZoneName:       zone.Name,
		PeriodDays:     days,
		Lifetime:       zone.Stats,
		TotalEvents:    len(alerts),
		RecentActivity: make([]models.ZoneActivity, 0, min(len(alerts), statsRecentActivity)),
	}
	for i, a := range alerts {
		switch a.Type {
		case models.AlertEntered:
			report.EntersInPeriod++
		case models.AlertExited:
			report.ExitsInPeriod++
		case models.AlertApproaching:
			report.ApproachesInPeriod++
		}
		if i < statsRecentActivity {
			report.RecentActivity = append(report.RecentActivity, models.ZoneActivity{Type: a.Type, Timestamp: a.Timestamp})
		}
	}
	if zone.Stats.TotalExits > 0 {
		report.AverageTimeInsideMinutes = zone.Stats.TotalTimeInsideMinutes / float64(zone.Stats.TotalExits)
	}
	return report, nil
}

func validateAlertConfig(c models.AlertConfig) error {
	if c.ApproachingDistanceMeters < 0 {
		return apperr.InvalidPayload("approaching distance must be non-negative")
	}
	if c.CooldownMinutes < 0 {
		return apperr.InvalidPayload("cooldown must be non-negative")
	}
	return nil
}
