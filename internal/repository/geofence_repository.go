package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/database"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

const zoneColumns = `id, entity_id, owner_id, name, description, color, icon, geometry,
	on_enter, on_exit, on_approaching, approaching_distance, cooldown_minutes,
	total_enters, total_exits, total_time_inside_minutes, last_entered, last_exited,
	last_approaching_alert_at, active, created_at, updated_at`

// GeofenceRepository handles database operations for geofence zones
type GeofenceRepository struct {
	db *sql.DB
}

// NewGeofenceRepository creates a new geofence repository
func NewGeofenceRepository(db *sql.DB) *GeofenceRepository {
	return &GeofenceRepository{db: db}
}

// Create inserts a new zone.
func (r *GeofenceRepository) Create(ctx context.Context, z models.GeofenceZone) error {
	geometry, err := json.Marshal(z.Geometry)
	if err != nil {
		return fmt.Errorf("failed to encode geometry: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO geofences (id, entity_id, owner_id, name, description, color, icon, geometry,
			on_enter, on_exit, on_approaching, approaching_distance, cooldown_minutes,
			active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		z.ID, z.EntityID, z.OwnerID, z.Name, z.Description, z.Color, z.Icon, string(geometry),
		boolToInt(z.AlertConfig.OnEnter), boolToInt(z.AlertConfig.OnExit), boolToInt(z.AlertConfig.OnApproaching),
		z.AlertConfig.ApproachingDistanceMeters, z.AlertConfig.CooldownMinutes,
		toNanos(z.CreatedAt), toNanos(z.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert geofence: %w", err)
	}
	return nil
}

// Get returns a zone by ID, active or not.
func (r *GeofenceRepository) Get(ctx context.Context, id string) (*models.GeofenceZone, error) {
	z, err := scanZone(r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM geofences WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("geofence %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geofence: %w", err)
	}
	return &z, nil
}

// ListActiveByEntity returns the entity's active zones in creation order.
func (r *GeofenceRepository) ListActiveByEntity(ctx context.Context, entityID string) ([]models.GeofenceZone, error) {
	return r.list(ctx, `SELECT `+zoneColumns+` FROM geofences
		WHERE entity_id = ? AND active = 1 ORDER BY created_at, rowid`, entityID)
}

// ListActiveByOwner returns every active zone belonging to the owner's entities.
func (r *GeofenceRepository) ListActiveByOwner(ctx context.Context, ownerID string) ([]models.GeofenceZone, error) {
	return r.list(ctx, `SELECT `+zoneColumns+` FROM geofences
		WHERE owner_id = ? AND active = 1 ORDER BY created_at, rowid`, ownerID)
}

func (r *GeofenceRepository) list(ctx context.Context, query string, args ...any) ([]models.GeofenceZone, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofences: %w", err)
	}
	defer rows.Close()

	zones := make([]models.GeofenceZone, 0)
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan geofence: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate geofences: %w", err)
	}
	return zones, nil
}

// Update writes the owner-mutable fields of an active zone.
func (r *GeofenceRepository) Update(ctx context.Context, z models.GeofenceZone) error {
	geometry, err := json.Marshal(z.Geometry)
	if err != nil {
		return fmt.Errorf("failed to encode geometry: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE geofences SET name = ?, description = ?, color = ?, icon = ?, geometry = ?,
			on_enter = ?, on_exit = ?, on_approaching = ?, approaching_distance = ?, cooldown_minutes = ?,
			updated_at = ?
		WHERE id = ? AND active = 1`,
		z.Name, z.Description, z.Color, z.Icon, string(geometry),
		boolToInt(z.AlertConfig.OnEnter), boolToInt(z.AlertConfig.OnExit), boolToInt(z.AlertConfig.OnApproaching),
		z.AlertConfig.ApproachingDistanceMeters, z.AlertConfig.CooldownMinutes,
		toNanos(z.UpdatedAt), z.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update geofence: %w", err)
	}
	return expectOneRow(res, z.ID)
}

// SoftDelete marks an active zone inactive. Stats and alerts are kept.
func (r *GeofenceRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE geofences SET active = 0, updated_at = ? WHERE id = ? AND active = 1`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete geofence: %w", err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("geofence %s not found or inactive", id)
	}
	return nil
}

// RecordTransition applies an enter or exit to the zone's counters in one
// transaction and returns the updated stats. Exits add the time since the
// matching enter to the inside total. lastEntered and lastExited never move
// back in time.
func (r *GeofenceRepository) RecordTransition(ctx context.Context, id string, kind models.AlertType, at time.Time) (models.ZoneStats, error) {
	if kind != models.AlertEntered && kind != models.AlertExited {
		return models.ZoneStats{}, apperr.InvalidPayload("transition type %q is not enter or exit", kind)
	}

	var stats models.ZoneStats
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		var lastEntered, lastExited sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT total_enters, total_exits, total_time_inside_minutes, last_entered, last_exited
			FROM geofences WHERE id = ?`, id,
		).Scan(&stats.TotalEnters, &stats.TotalExits, &stats.TotalTimeInsideMinutes, &lastEntered, &lastExited)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("geofence %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read geofence stats: %w", err)
		}
		stats.LastEntered = timePtr(lastEntered)
		stats.LastExited = timePtr(lastExited)

		ts := at.UTC()
		switch kind {
		case models.AlertEntered:
			stats.TotalEnters++
			stats.LastEntered = latest(stats.LastEntered, ts)
		case models.AlertExited:
			stats.TotalExits++
			if open := stats.LastEntered; open != nil && ts.After(*open) &&
				(stats.LastExited == nil || open.After(*stats.LastExited)) {
				stats.TotalTimeInsideMinutes += ts.Sub(*open).Minutes()
			}
			stats.LastExited = latest(stats.LastExited, ts)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE geofences SET total_enters = ?, total_exits = ?, total_time_inside_minutes = ?,
				last_entered = ?, last_exited = ?
			WHERE id = ?`,
			stats.TotalEnters, stats.TotalExits, stats.TotalTimeInsideMinutes,
			nullNanos(stats.LastEntered), nullNanos(stats.LastExited), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update geofence stats: %w", err)
		}
		return nil
	})
	return stats, err
}

// TryMarkApproaching records an approaching alert at `at` unless one was
// recorded within cooldown of it. It reports whether the alert may fire.
func (r *GeofenceRepository) TryMarkApproaching(ctx context.Context, id string, at time.Time, cooldown time.Duration) (bool, error) {
	fire := false
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		var last sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT last_approaching_alert_at FROM geofences WHERE id = ?`, id).Scan(&last)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("geofence %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read approaching marker: %w", err)
		}

		if prev := timePtr(last); prev != nil {
			gap := at.Sub(*prev)
			if gap < 0 {
				gap = -gap
			}
			if gap < cooldown {
				return nil
			}
			if at.Before(*prev) {
				// An older fix outside the cooldown may alert but must not move the marker back.
				fire = true
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE geofences SET last_approaching_alert_at = ? WHERE id = ?`, toNanos(at), id); err != nil {
			return fmt.Errorf("failed to update approaching marker: %w", err)
		}
		fire = true
		return nil
	})
	return fire, err
}

func latest(cur *time.Time, ts time.Time) *time.Time {
	if cur != nil && !ts.After(*cur) {
		return cur
	}
	return &ts
}

func scanZone(s rowScanner) (models.GeofenceZone, error) {
	var (
		z                                models.GeofenceZone
		geometry                         string
		onEnter, onExit, onApproach      int
		active                           int
		lastEntered, lastExited, lastApp sql.NullInt64
		createdAt, updatedAt             int64
	)
	err := s.Scan(&z.ID, &z.EntityID, &z.OwnerID, &z.Name, &z.Description, &z.Color, &z.Icon, &geometry,
		&onEnter, &onExit, &onApproach, &z.AlertConfig.ApproachingDistanceMeters, &z.AlertConfig.CooldownMinutes,
		&z.Stats.TotalEnters, &z.Stats.TotalExits, &z.Stats.TotalTimeInsideMinutes, &lastEntered, &lastExited,
		&lastApp, &active, &createdAt, &updatedAt)
	if err != nil {
		return models.GeofenceZone{}, err
	}
	if err := json.Unmarshal([]byte(geometry), &z.Geometry); err != nil {
		return models.GeofenceZone{}, fmt.Errorf("decode geometry of %s: %w", z.ID, err)
	}
	z.AlertConfig.OnEnter = onEnter == 1
	z.AlertConfig.OnExit = onExit == 1
	z.AlertConfig.OnApproaching = onApproach == 1
	z.Stats.LastEntered = timePtr(lastEntered)
	z.Stats.LastExited = timePtr(lastExited)
	z.LastApproachingAlertAt = timePtr(lastApp)
	z.Active = active == 1
	z.CreatedAt = fromNanos(createdAt)
	z.UpdatedAt = fromNanos(updatedAt)
	return z, nil
}
