package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/database"
	"github.com/onichip/pettrack-backend-go/internal/geocoding"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/repository"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "pettrack.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// stack is a fully wired service layer over a temporary database.
type stack struct {
	db        *sql.DB
	entities  *repository.EntityRepository
	history   *repository.LocationRepository
	alerts    *repository.AlertRepository
	telemetry *repository.TelemetryRepository
	lastKnown *repository.LastKnownRepository
	zones     *repository.GeofenceRepository
	geofences *GeofenceService
	evaluator *GeofenceEvaluator
	resolver  *WifiResolver
	ingestion *IngestionService
}

func newStack(t *testing.T, fallback config.FallbackConfig, providers ...geocoding.Provider) *stack {
	t.Helper()
	db := newTestDB(t)
	s := &stack{
		db:        db,
		entities:  repository.NewEntityRepository(db),
		history:   repository.NewLocationRepository(db),
		alerts:    repository.NewAlertRepository(db),
		telemetry: repository.NewTelemetryRepository(db),
		lastKnown: repository.NewLastKnownRepository(db),
		zones:     repository.NewGeofenceRepository(db),
	}
	s.geofences = NewGeofenceService(s.zones, s.alerts, s.entities, config.Default().Geofence, nil)
	s.evaluator = NewGeofenceEvaluator(s.geofences, s.history, nil)
	s.resolver = NewWifiResolver(repository.NewWifiCacheRepository(db), providers,
		WifiResolverConfig{MinSignalDBm: -90, ProviderTimeout: 100 * time.Millisecond}, nil)
	s.ingestion = NewIngestionService(IngestionDeps{
		Evaluator: s.evaluator,
		Resolver:  s.resolver,
		History:   s.history,
		Alerts:    s.alerts,
		Telemetry: s.telemetry,
		LastKnown: s.lastKnown,
	}, fallback, nil)

	require.NoError(t, s.entities.Upsert(context.Background(), models.Entity{
		ID: "pet-1", OwnerID: "owner-1", Name: "Luna", CreatedAt: t0,
	}))
	return s
}

func (s *stack) circle(t *testing.T, lat, lon, radius float64, cfg *models.AlertConfigInput) *models.GeofenceZone {
	t.Helper()
	z, err := s.geofences.Create(context.Background(), "owner-1", models.CreateGeofenceRequest{
		EntityID: "pet-1",
		Name:     "home",
		Geometry: models.Geometry{
			Type:   models.GeometryCircle,
			Center: &models.LatLng{Latitude: lat, Longitude: lon},
			Radius: radius,
		},
		AlertConfig: cfg,
	})
	require.NoError(t, err)
	return z
}

func gpsFix(lat, lon float64, ts time.Time) models.Fix {
	return models.Fix{
		EntityID:  "pet-1",
		Latitude:  lat,
		Longitude: lon,
		Method:    models.MethodGPS,
		Source:    models.SourceGPS,
		Timestamp: ts,
	}
}

func ptr[T any](v T) *T { return &v }
