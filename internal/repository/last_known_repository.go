package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/models"
)

// LastKnownRepository maintains the per-entity last known location projection.
type LastKnownRepository struct {
	db *sql.DB
}

// NewLastKnownRepository creates a new projection repository
func NewLastKnownRepository(db *sql.DB) *LastKnownRepository {
	return &LastKnownRepository{db: db}
}

// Advance points the projection at fix unless it already holds a newer
// one. The fix must already be stored. It reports whether the row moved.
func (r *LastKnownRepository) Advance(ctx context.Context, fix models.Fix) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO last_known_locations (entity_id, fix_id, latitude, longitude, accuracy_meters, source,
			recorded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			fix_id = excluded.fix_id,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy_meters = excluded.accuracy_meters,
			source = excluded.source,
			recorded_at = excluded.recorded_at,
			updated_at = excluded.updated_at
		WHERE excluded.recorded_at > last_known_locations.recorded_at
			OR (excluded.recorded_at = last_known_locations.recorded_at AND excluded.fix_id > last_known_locations.fix_id)`,
		fix.EntityID, fix.ID, fix.Latitude, fix.Longitude, fix.AccuracyMeters, fix.Source,
		toNanos(fix.Timestamp), toNanos(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance last known location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Get returns the projection for the entity, or nil when it has none.
func (r *LastKnownRepository) Get(ctx context.Context, entityID string) (*models.LastKnownLocation, error) {
	var (
		l                     models.LastKnownLocation
		recordedAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT entity_id, fix_id, latitude, longitude, accuracy_meters, source, recorded_at, updated_at
		FROM last_known_locations WHERE entity_id = ?`, entityID,
	).Scan(&l.EntityID, &l.FixID, &l.Latitude, &l.Longitude, &l.AccuracyMeters, &l.Source, &recordedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last known location: %w", err)
	}
	l.Timestamp = fromNanos(recordedAt)
	l.UpdatedAt = fromNanos(updatedAt)
	return &l, nil
}
