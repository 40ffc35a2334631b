package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

// TelemetryRepository stores battery and sensor readings.
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository creates a new telemetry repository
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Insert stores a reading and returns it with its ID.
func (r *TelemetryRepository) Insert(ctx context.Context, t models.Telemetry) (models.Telemetry, error) {
	if t.EntityID == "" {
		return models.Telemetry{}, apperr.InvalidPayload("telemetry requires an entity id")
	}
	if t.BatteryLevel != nil && (*t.BatteryLevel < 0 || *t.BatteryLevel > 100) {
		return models.Telemetry{}, apperr.InvalidPayload("battery level must be within 0..100, got %d", *t.BatteryLevel)
	}
	if !models.StorableTime(t.RecordedAt) {
		return models.Telemetry{}, apperr.InvalidPayload("telemetry timestamp %s outside %d..%d",
			t.RecordedAt.Format(time.RFC3339), models.MinTimestamp.Year(), models.MaxTimestamp.Year())
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO telemetry (entity_id, battery_level, charging, temperature_c, heart_rate_bpm,
			respiratory_rate, activity, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.EntityID, nullInt(t.BatteryLevel), boolToInt(t.Charging), nullFloat(t.TemperatureC),
		nullInt(t.HeartRateBpm), nullInt(t.RespiratoryRate), t.Activity, toNanos(t.RecordedAt),
	)
	if err != nil {
		return models.Telemetry{}, fmt.Errorf("failed to insert telemetry: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return models.Telemetry{}, fmt.Errorf("failed to read telemetry id: %w", err)
	}
	t.RecordedAt = t.RecordedAt.UTC()
	return t, nil
}

// Latest returns the newest reading for the entity, or nil.
func (r *TelemetryRepository) Latest(ctx context.Context, entityID string) (*models.Telemetry, error) {
	var (
		t                    models.Telemetry
		battery, heart, resp sql.NullInt64
		temp                 sql.NullFloat64
		charging             int
		recordedAt           int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, entity_id, battery_level, charging, temperature_c, heart_rate_bpm, respiratory_rate,
			activity, recorded_at
		FROM telemetry WHERE entity_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`, entityID,
	).Scan(&t.ID, &t.EntityID, &battery, &charging, &temp, &heart, &resp, &t.Activity, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get telemetry: %w", err)
	}
	t.BatteryLevel = intPtr(battery)
	t.Charging = charging == 1
	t.TemperatureC = floatPtr(temp)
	t.HeartRateBpm = intPtr(heart)
	t.RespiratoryRate = intPtr(resp)
	t.RecordedAt = fromNanos(recordedAt)
	return &t, nil
}
