package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/models"
)

// rangePageSize is how many rows Range reads per query.
const rangePageSize = 100

const fixColumns = `id, entity_id, latitude, longitude, accuracy_meters, speed_kmh, method, source,
	confidence, battery_level, recorded_at, received_at`

// LocationRepository is the append-only fix history.
type LocationRepository struct {
	db *sql.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Append inserts a fix and returns it with its assigned ID.
func (r *LocationRepository) Append(ctx context.Context, fix models.Fix) (models.Fix, error) {
	if err := fix.Validate(); err != nil {
		return models.Fix{}, err
	}
	if fix.ReceivedAt.IsZero() {
		fix.ReceivedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO fixes (entity_id, latitude, longitude, accuracy_meters, speed_kmh, method, source,
			confidence, battery_level, recorded_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fix.EntityID, fix.Latitude, fix.Longitude, fix.AccuracyMeters, nullFloat(fix.SpeedKmh),
		string(fix.Method), fix.Source, fix.Confidence, nullInt(fix.BatteryLevel),
		toNanos(fix.Timestamp), toNanos(fix.ReceivedAt),
	)
	if err != nil {
		return models.Fix{}, fmt.Errorf("failed to insert fix: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Fix{}, fmt.Errorf("failed to read fix id: %w", err)
	}

	fix.ID = id
	fix.Timestamp = fix.Timestamp.UTC()
	fix.ReceivedAt = fix.ReceivedAt.UTC()
	return fix, nil
}

// Latest returns the most recent fix for the entity, or nil when it has none.
// Ties on timestamp go to the last inserted row.
func (r *LocationRepository) Latest(ctx context.Context, entityID string) (*models.Fix, error) {
	return r.latest(ctx, entityID, false)
}

// LatestObserved is Latest restricted to real observations, skipping
// fallback estimates.
func (r *LocationRepository) LatestObserved(ctx context.Context, entityID string) (*models.Fix, error) {
	return r.latest(ctx, entityID, true)
}

func (r *LocationRepository) latest(ctx context.Context, entityID string, observedOnly bool) (*models.Fix, error) {
	query := `SELECT ` + fixColumns + ` FROM fixes WHERE entity_id = ?`
	args := []any{entityID}
	if observedOnly {
		query += ` AND source != ?`
		args = append(args, models.SourceFallback)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT 1`

	fix, err := scanFix(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest fix: %w", err)
	}
	return &fix, nil
}

// Range yields fixes for the entity most recent first, bounded by the
// optional time window and limit. Rows are read in pages by keyset, so no
// connection is held between yields and the sequence can be iterated again.
func (r *LocationRepository) Range(ctx context.Context, entityID string, start, end *time.Time, limit int) iter.Seq2[models.Fix, error] {
	return func(yield func(models.Fix, error) bool) {
		if limit <= 0 {
			return
		}

		var (
			emitted   int
			cursorTS  int64
			cursorID  int64
			hasCursor bool
		)
		for emitted < limit {
			pageSize := min(rangePageSize, limit-emitted)
			page, err := r.page(ctx, entityID, start, end, hasCursor, cursorTS, cursorID, pageSize)
			if err != nil {
				yield(models.Fix{}, err)
				return
			}
			for _, fix := range page {
				if !yield(fix, nil) {
					return
				}
				emitted++
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cursorTS, cursorID, hasCursor = toNanos(last.Timestamp), last.ID, true
		}
	}
}

func (r *LocationRepository) page(ctx context.Context, entityID string, start, end *time.Time,
	hasCursor bool, cursorTS, cursorID int64, size int) ([]models.Fix, error) {
	conditions := []string{"entity_id = ?"}
	args := []any{entityID}
	if start != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, toNanos(*start))
	}
	if end != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, toNanos(*end))
	}
	if hasCursor {
		conditions = append(conditions, "(recorded_at < ? OR (recorded_at = ? AND id < ?))")
		args = append(args, cursorTS, cursorTS, cursorID)
	}

	query := `SELECT ` + fixColumns + ` FROM fixes WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	fixes := make([]models.Fix, 0, size)
	for rows.Next() {
		fix, err := scanFix(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		fixes = append(fixes, fix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fixes: %w", err)
	}
	return fixes, nil
}

// List collects Range into a slice.
func (r *LocationRepository) List(ctx context.Context, entityID string, start, end *time.Time, limit int) ([]models.Fix, error) {
	fixes := make([]models.Fix, 0)
	for fix, err := range r.Range(ctx, entityID, start, end, limit) {
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

func scanFix(s rowScanner) (models.Fix, error) {
	var (
		f          models.Fix
		method     string
		speed      sql.NullFloat64
		battery    sql.NullInt64
		recordedAt int64
		receivedAt int64
	)
	err := s.Scan(&f.ID, &f.EntityID, &f.Latitude, &f.Longitude, &f.AccuracyMeters, &speed, &method,
		&f.Source, &f.Confidence, &battery, &recordedAt, &receivedAt)
	if err != nil {
		return models.Fix{}, err
	}
	f.Method = models.ResolutionMethod(method)
	f.SpeedKmh = floatPtr(speed)
	f.BatteryLevel = intPtr(battery)
	f.Timestamp = fromNanos(recordedAt)
	f.ReceivedAt = fromNanos(receivedAt)
	return f, nil
}
