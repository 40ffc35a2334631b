package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/models"
)

// WifiCacheRepository is the SQLite-backed WiFi resolution cache.
type WifiCacheRepository struct {
	db *sql.DB
}

// NewWifiCacheRepository creates a new WiFi cache repository
func NewWifiCacheRepository(db *sql.DB) *WifiCacheRepository {
	return &WifiCacheRepository{db: db}
}

// Get returns the entry for fingerprint if it has not expired at now.
// Expired rows are ignored whether or not they have been purged yet.
func (r *WifiCacheRepository) Get(ctx context.Context, fingerprint string, now time.Time) (*models.WifiCacheEntry, error) {
	var (
		e                    models.WifiCacheEntry
		createdAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT fingerprint, latitude, longitude, accuracy_meters, source, confidence, access_points,
			created_at, expires_at
		FROM wifi_cache WHERE fingerprint = ? AND expires_at > ?`, fingerprint, toNanos(now),
	).Scan(&e.Fingerprint, &e.Latitude, &e.Longitude, &e.AccuracyMeters, &e.Source, &e.Confidence,
		&e.AccessPoints, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wifi cache entry: %w", err)
	}
	e.CreatedAt = fromNanos(createdAt)
	e.ExpiresAt = fromNanos(expiresAt)
	return &e, nil
}

// Put creates or refreshes the entry for its fingerprint.
func (r *WifiCacheRepository) Put(ctx context.Context, e models.WifiCacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wifi_cache (fingerprint, latitude, longitude, accuracy_meters, source, confidence,
			access_points, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy_meters = excluded.accuracy_meters,
			source = excluded.source,
			confidence = excluded.confidence,
			access_points = excluded.access_points,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Fingerprint, e.Latitude, e.Longitude, e.AccuracyMeters, e.Source, e.Confidence,
		e.AccessPoints, toNanos(e.CreatedAt), toNanos(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert wifi cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries expired at now and returns how many were removed.
func (r *WifiCacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM wifi_cache WHERE expires_at <= ?`, toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge wifi cache: %w", err)
	}
	return res.RowsAffected()
}
