package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/metrics"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

// IngestionService turns raw device reports into stored fixes, telemetry
// and alerts. Each report is handled independently; the only shared
// mutable state it touches is zone stats, which GeofenceService guards.
type IngestionService struct {
	evaluator *GeofenceEvaluator
	resolver  *WifiResolver
	history   *repository.LocationRepository
	alerts    *repository.AlertRepository
	telemetry *repository.TelemetryRepository
	lastKnown *repository.LastKnownRepository
	fallback  config.FallbackConfig
	now       func() time.Time
	logger    *slog.Logger
}

// IngestionDeps groups the collaborators of an IngestionService.
type IngestionDeps struct {
	Evaluator *GeofenceEvaluator
	Resolver  *WifiResolver
	History   *repository.LocationRepository
	Alerts    *repository.AlertRepository
	Telemetry *repository.TelemetryRepository
	LastKnown *repository.LastKnownRepository
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(deps IngestionDeps, fallback config.FallbackConfig, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		evaluator: deps.Evaluator,
		resolver:  deps.Resolver,
		history:   deps.History,
		alerts:    deps.Alerts,
		telemetry: deps.Telemetry,
		lastKnown: deps.LastKnown,
		fallback:  fallback,
		now:       time.Now,
		logger:    logger,
	}
}

// Receive ingests one device report. Location and telemetry succeed or
// fail independently: failures of either part are collected in the
// result's Errors. Only a report that carries nothing to ingest is
// rejected outright.
func (s *IngestionService) Receive(ctx context.Context, entityID string, p models.LocationPayload) (*models.IngestionResult, error) {
	start := time.Now()
	defer func() { metrics.IngestionDuration.Observe(time.Since(start).Seconds()) }()

	if entityID == "" {
		return nil, apperr.InvalidPayload("entity id is required")
	}
	located := p.HasCoordinates() || p.HasWifi() || p.HasCells()
	if !located && !p.HasTelemetry() {
		return nil, apperr.InvalidPayload("report carries no coordinates, radio scan or telemetry")
	}

	now := s.now().UTC()
	observedAt := now
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		observedAt = p.Timestamp.UTC()
	}

	res := &models.IngestionResult{Alerts: make([]models.AlertEvent, 0)}
	collect := func(err error) {
		metrics.IngestionErrorsTotal.WithLabelValues(codeLabel(err)).Inc()
		res.Errors = append(res.Errors, err)
	}

	if p.HasTelemetry() {
		t, err := s.telemetry.Insert(ctx, telemetryFrom(entityID, p, observedAt))
		if err != nil {
			s.logger.Warn("telemetry not stored", "entity", entityID, "error", err)
			collect(storageErr("store telemetry", err))
		} else {
			res.Telemetry = &t
		}
	}

	if !located {
		return res, nil
	}

	fix, err := s.locate(ctx, entityID, p, observedAt, now)
	if err != nil {
		s.logger.Warn("location not resolved", "entity", entityID, "error", err)
		collect(err)
		return res, nil
	}

	latest, err := s.history.Latest(ctx, entityID)
	if err != nil {
		collect(storageErr("load latest fix", err))
		return res, nil
	}
	if latest != nil && latest.SameObservation(fix) {
		s.logger.Debug("retransmitted fix ignored", "entity", entityID, "fix", latest.ID)
		res.Fix = latest
		res.Retransmission = true
		return res, nil
	}

	ev, err := s.evaluator.Evaluate(ctx, fix)
	if err != nil {
		collect(storageErr("evaluate fix", err))
		return res, nil
	}
	res.Fix = &ev.Fix
	res.Late = ev.Late
	metrics.FixesIngestedTotal.WithLabelValues(sourceLabel(ev.Fix.Source)).Inc()
	for _, zerr := range ev.Errors {
		collect(zerr)
	}

	if len(ev.Alerts) > 0 {
		saved, err := s.alerts.CreateBatch(ctx, ev.Alerts)
		if err != nil {
			s.logger.Error("alerts not stored", "entity", entityID, "count", len(ev.Alerts), "error", err)
			collect(storageErr("store alerts", err))
			saved = ev.Alerts
		}
		res.Alerts = saved
		for _, a := range saved {
			metrics.AlertsEmittedTotal.WithLabelValues(string(a.Type)).Inc()
			s.logger.Info("geofence alert", "entity", entityID, "zone", a.ZoneID, "type", a.Type)
		}
	}

	// The projection only moves after the fix is in the history.
	if _, err := s.lastKnown.Advance(ctx, ev.Fix); err != nil {
		s.logger.Warn("last known location not advanced", "entity", entityID, "error", err)
		collect(storageErr("advance last known location", err))
	}
	return res, nil
}

func (s *IngestionService) locate(ctx context.Context, entityID string, p models.LocationPayload, observedAt, now time.Time) (models.Fix, error) {
	fix := models.Fix{
		EntityID:   entityID,
		SpeedKmh:   p.SpeedKmh,
		Timestamp:  observedAt,
		ReceivedAt: now,
	}
	if p.Battery != nil {
		level := p.Battery.Level
		fix.BatteryLevel = &level
	}

	if p.HasCoordinates() {
		fix.Latitude = *p.Latitude
		fix.Longitude = *p.Longitude
		fix.AccuracyMeters = p.AccuracyMeters
		fix.Method = p.Method
		if fix.Method == "" {
			fix.Method = models.MethodGPS
		}
		fix.Source = models.SourceGPS
		fix.Confidence = 1
		return fix, fix.Validate()
	}

	scan := p.Scan()
	r, err := s.ResolveScan(ctx, entityID, scan)
	if err != nil {
		return models.Fix{}, err
	}
	fix.Method = r.Method
	fix.Latitude = r.Latitude
	fix.Longitude = r.Longitude
	fix.AccuracyMeters = r.AccuracyMeters
	fix.Source = r.Source
	fix.Confidence = r.Confidence
	return fix, fix.Validate()
}

// ResolveWifi resolves access points to a position. See ResolveScan.
func (s *IngestionService) ResolveWifi(ctx context.Context, entityID string, aps []models.AccessPoint) (models.Resolution, error) {
	return s.ResolveScan(ctx, entityID, models.RadioScan{AccessPoints: aps})
}

// ResolveScan resolves a WiFi, cell or hybrid scan to a position,
// applying the configured degraded estimate when every provider fails.
// entityID may be empty, in which case the last-known fallback is
// unavailable.
func (s *IngestionService) ResolveScan(ctx context.Context, entityID string, scan models.RadioScan) (models.Resolution, error) {
	r, err := s.resolver.Locate(ctx, scan)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, apperr.ErrInvalidPayload) {
		return models.Resolution{}, err
	}

	fb, ok, ferr := s.degradedEstimate(ctx, entityID)
	if ferr != nil {
		return models.Resolution{}, errors.Join(err, ferr)
	}
	if !ok {
		return models.Resolution{}, err
	}
	s.logger.Warn("using degraded location estimate", "entity", entityID, "mode", s.fallback.Mode, "error", err)
	fb.Method = scanMethod(s.resolver.Normalize(scan))
	return fb, nil
}

// degradedEstimate returns the low-confidence fallback position, tagged
// source=fallback, or false when the mode yields none.
func (s *IngestionService) degradedEstimate(ctx context.Context, entityID string) (models.Resolution, bool, error) {
	switch s.fallback.Mode {
	case config.FallbackRegion:
		return models.Resolution{
			Latitude:       s.fallback.Latitude,
			Longitude:      s.fallback.Longitude,
			AccuracyMeters: s.fallback.AccuracyMeters,
			Source:         models.SourceFallback,
			Confidence:     s.fallback.Confidence,
		}, true, nil
	case config.FallbackLastKnown:
		if entityID == "" {
			return models.Resolution{}, false, nil
		}
		prev, err := s.history.LatestObserved(ctx, entityID)
		if err != nil || prev == nil {
			return models.Resolution{}, false, err
		}
		return models.Resolution{
			Latitude:       prev.Latitude,
			Longitude:      prev.Longitude,
			AccuracyMeters: math.Max(prev.AccuracyMeters, s.fallback.AccuracyMeters),
			Source:         models.SourceFallback,
			Confidence:     s.fallback.Confidence,
		}, true, nil
	}
	return models.Resolution{}, false, nil
}

func telemetryFrom(entityID string, p models.LocationPayload, at time.Time) models.Telemetry {
	t := models.Telemetry{EntityID: entityID, RecordedAt: at}
	if p.Battery != nil {
		level := p.Battery.Level
		t.BatteryLevel = &level
		t.Charging = p.Battery.Charging
	}
	if p.Sensors != nil {
		t.TemperatureC = p.Sensors.TemperatureC
		t.HeartRateBpm = p.Sensors.HeartRateBpm
		t.RespiratoryRate = p.Sensors.RespiratoryRate
		t.Activity = p.Sensors.Activity
	}
	return t
}

// storageErr tags uncategorised failures as storage errors.
func storageErr(op string, err error) error {
	if apperr.CodeOf(err) != "" {
		return err
	}
	return apperr.Storage(op, err)
}

func codeLabel(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	return apperr.CodeUnexpected
}

// sourceLabel folds provider names into one label value.
func sourceLabel(source string) string {
	switch source {
	case models.SourceGPS, models.SourceCache, models.SourceFallback:
		return source
	}
	return "provider"
}
