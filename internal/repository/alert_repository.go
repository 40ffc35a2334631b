package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/database"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

const alertColumns = `id, zone_id, zone_name, entity_id, fix_id, type, occurred_at, acknowledged`

// AlertRepository persists geofence alert events
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateBatch inserts alerts in one transaction, preserving their order,
// and returns them with IDs assigned.
func (r *AlertRepository) CreateBatch(ctx context.Context, alerts []models.AlertEvent) ([]models.AlertEvent, error) {
	if len(alerts) == 0 {
		return alerts, nil
	}

	out := make([]models.AlertEvent, len(alerts))
	copy(out, alerts)
	now := toNanos(time.Now())

	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO alerts (zone_id, zone_name, entity_id, fix_id, type, occurred_at, acknowledged, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i := range out {
			a := &out[i]
			fixID := sql.NullInt64{Int64: a.FixID, Valid: a.FixID != 0}
			res, err := stmt.ExecContext(ctx, a.ZoneID, a.ZoneName, a.EntityID, fixID, string(a.Type), toNanos(a.Timestamp), now)
			if err != nil {
				return fmt.Errorf("failed to insert alert for zone %s: %w", a.ZoneID, err)
			}
			if a.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to read alert id: %w", err)
			}
			a.Acknowledged = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListForEntity returns the entity's alerts, newest first.
func (r *AlertRepository) ListForEntity(ctx context.Context, entityID string, onlyUnacknowledged bool, limit int) ([]models.AlertEvent, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE entity_id = ?`
	args := []any{entityID}
	if onlyUnacknowledged {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, query, args...)
}

// ListForZoneSince returns a zone's alerts at or after since, newest first.
func (r *AlertRepository) ListForZoneSince(ctx context.Context, zoneID string, since time.Time, limit int) ([]models.AlertEvent, error) {
	return r.list(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE zone_id = ? AND occurred_at >= ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		zoneID, toNanos(since), limit)
}

func (r *AlertRepository) list(ctx context.Context, query string, args ...any) ([]models.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.AlertEvent, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge sets the acknowledged flag, the only mutable alert field.
func (r *AlertRepository) Acknowledge(ctx context.Context, id int64) (*models.AlertEvent, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 0 {
		return nil, apperr.NotFound("alert %d not found", id)
	}

	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("alert %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &a, nil
}

func scanAlert(s rowScanner) (models.AlertEvent, error) {
	var (
		a          models.AlertEvent
		fixID      sql.NullInt64
		kind       string
		occurredAt int64
		ack        int
	)
	if err := s.Scan(&a.ID, &a.ZoneID, &a.ZoneName, &a.EntityID, &fixID, &kind, &occurredAt, &ack); err != nil {
		return models.AlertEvent{}, err
	}
	a.FixID = fixID.Int64
	a.Type = models.AlertType(kind)
	a.Timestamp = fromNanos(occurredAt)
	a.Acknowledged = ack == 1
	return a, nil
}
