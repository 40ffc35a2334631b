package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
	"github.com/onichip/pettrack-backend-go/internal/spatial"
)

// Evaluation is the outcome of evaluating one fix against an entity's zones.
type Evaluation struct {
	Fix    models.Fix
	Alerts []models.AlertEvent
	// Errors are per-zone failures; the fix is stored regardless.
	Errors []error
	// Late is set when the fix is older than the entity's latest observed
	// fix. Late fixes are stored but not evaluated.
	Late bool
}

// GeofenceEvaluator detects zone transitions for incoming fixes.
//
// Inside/outside state is never stored. Both the previous and the current
// membership are recomputed from the zone's current geometry on every fix,
// so geometry edits between fixes need no invalidation.
type GeofenceEvaluator struct {
	zones   *GeofenceService
	history *repository.LocationRepository
	logger  *slog.Logger
}

// NewGeofenceEvaluator creates a new geofence evaluator
func NewGeofenceEvaluator(zones *GeofenceService, history *repository.LocationRepository, logger *slog.Logger) *GeofenceEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeofenceEvaluator{zones: zones, history: history, logger: logger}
}

// Evaluate compares fix with the entity's previous observed fix for every
// active zone, records transitions, then appends fix to the history.
// Fallback fixes and fixes older than the previous observed fix are stored
// without evaluation.
func (e *GeofenceEvaluator) Evaluate(ctx context.Context, fix models.Fix) (*Evaluation, error) {
	if err := fix.Validate(); err != nil {
		return nil, err
	}

	out := &Evaluation{Alerts: make([]models.AlertEvent, 0)}
	if !fix.IsFallback() {
		previous, err := e.history.LatestObserved(ctx, fix.EntityID)
		if err != nil {
			return nil, err
		}
		if previous != nil && fix.Timestamp.Before(previous.Timestamp) {
			e.logger.Debug("late fix stored without evaluation", "entity", fix.EntityID,
				"timestamp", fix.Timestamp, "latest", previous.Timestamp)
			out.Late = true
		} else if err := e.evaluateZones(ctx, out, fix, previous); err != nil {
			return nil, err
		}
	}

	stored, err := e.history.Append(ctx, fix)
	if err != nil {
		return nil, err
	}
	out.Fix = stored
	for i := range out.Alerts {
		out.Alerts[i].FixID = stored.ID
	}
	return out, nil
}

func (e *GeofenceEvaluator) evaluateZones(ctx context.Context, out *Evaluation, fix models.Fix, previous *models.Fix) error {
	zones, err := e.zones.ListForEntity(ctx, fix.EntityID)
	if err != nil {
		return err
	}
	for _, z := range zones {
		// A transition recorded before a later step failed still yields its alert.
		alerts, err := e.evaluateZone(ctx, z, fix, previous)
		out.Alerts = append(out.Alerts, alerts...)
		if err != nil {
			e.logger.Warn("zone evaluation failed", "zone", z.ID, "entity", fix.EntityID, "error", err)
			out.Errors = append(out.Errors, err)
		}
	}
	return nil
}

func (e *GeofenceEvaluator) evaluateZone(ctx context.Context, z models.GeofenceZone, fix models.Fix, previous *models.Fix) ([]models.AlertEvent, error) {
	shape, err := z.Geometry.Shape()
	if err != nil {
		return nil, fmt.Errorf("zone %s: %w", z.ID, err)
	}
	insideNow, err := spatial.Contains(shape, fix.Point())
	if err != nil {
		return nil, fmt.Errorf("zone %s: %w", z.ID, err)
	}
	wasInside := insideNow
	if previous != nil {
		if wasInside, err = spatial.Contains(shape, previous.Point()); err != nil {
			return nil, fmt.Errorf("zone %s: %w", z.ID, err)
		}
	}

	alert := func(kind models.AlertType) models.AlertEvent {
		return models.AlertEvent{
			ZoneID:    z.ID,
			ZoneName:  z.Name,
			EntityID:  fix.EntityID,
			Type:      kind,
			Timestamp: fix.Timestamp,
		}
	}

	var alerts []models.AlertEvent
	switch {
	case insideNow && !wasInside && previous != nil && z.AlertConfig.OnEnter:
		if _, err := e.zones.RecordTransition(ctx, z.ID, models.AlertEntered, fix.Timestamp); err != nil {
			return nil, fmt.Errorf("zone %s: record enter: %w", z.ID, err)
		}
		alerts = append(alerts, alert(models.AlertEntered))
	case !insideNow && wasInside && z.AlertConfig.OnExit:
		if _, err := e.zones.RecordTransition(ctx, z.ID, models.AlertExited, fix.Timestamp); err != nil {
			return nil, fmt.Errorf("zone %s: record exit: %w", z.ID, err)
		}
		alerts = append(alerts, alert(models.AlertExited))
	}

	if !insideNow && z.AlertConfig.OnApproaching {
		dist, err := spatial.DistanceToBoundary(shape, fix.Point())
		if err != nil {
			return alerts, fmt.Errorf("zone %s: %w", z.ID, err)
		}
		if dist <= z.AlertConfig.ApproachingDistanceMeters {
			fire, err := e.zones.TryMarkApproaching(ctx, z.ID, fix.Timestamp, z.AlertConfig.Cooldown())
			if err != nil {
				return alerts, fmt.Errorf("zone %s: approaching marker: %w", z.ID, err)
			}
			if fire {
				alerts = append(alerts, alert(models.AlertApproaching))
			}
		}
	}
	return alerts, nil
}
