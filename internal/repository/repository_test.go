package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/database"
	"github.com/onichip/pettrack-backend-go/internal/models"
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

func gpsFix(entity string, lat, lon float64, ts time.Time) models.Fix {
	return models.Fix{
		EntityID:  entity,
		Latitude:  lat,
		Longitude: lon,
		Method:    models.MethodGPS,
		Source:    models.SourceGPS,
		Timestamp: ts,
	}
}

func circleZone(entity string, created time.Time) models.GeofenceZone {
	return models.GeofenceZone{
		ID:       uuid.NewString(),
		EntityID: entity,
		Name:     "home",
		Color:    models.DefaultZoneColor,
		Icon:     models.DefaultZoneIcon,
		Geometry: models.Geometry{
			Type:   models.GeometryCircle,
			Center: &models.LatLng{Latitude: 40, Longitude: -3},
			Radius: 50,
		},
		AlertConfig: models.AlertConfig{OnEnter: true, OnExit: true, ApproachingDistanceMeters: 50, CooldownMinutes: 5},
		Active:      true,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestLocationRepository_AppendAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewLocationRepository(newTestDB(t))

	latest, err := repo.Latest(ctx, "pet-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, err := repo.Append(ctx, gpsFix("pet-1", 40, -3, t0))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	// Same timestamp: the later insert wins.
	second, err := repo.Append(ctx, gpsFix("pet-1", 40.1, -3, t0))
	require.NoError(t, err)

	latest, err = repo.Latest(ctx, "pet-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, latest.Timestamp.Equal(t0))

	// An older fix arriving late does not become the latest.
	_, err = repo.Append(ctx, gpsFix("pet-1", 41, -3, t0.Add(-time.Hour)))
	require.NoError(t, err)
	latest, err = repo.Latest(ctx, "pet-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestLocationRepository_AppendRejectsBadCoordinates(t *testing.T) {
	repo := NewLocationRepository(newTestDB(t))
	_, err := repo.Append(context.Background(), gpsFix("pet-1", 95, 0, t0))
	assert.True(t, errors.Is(err, apperr.ErrInvalidFix))
}

func TestLocationRepository_LatestObservedSkipsFallback(t *testing.T) {
	ctx := context.Background()
	repo := NewLocationRepository(newTestDB(t))

	observed, err := repo.Append(ctx, gpsFix("pet-1", 40, -3, t0))
	require.NoError(t, err)
	fb := gpsFix("pet-1", 40.4168, -3.7038, t0.Add(time.Minute))
	fb.Method = models.MethodWiFi
	fb.Source = models.SourceFallback
	_, err = repo.Append(ctx, fb)
	require.NoError(t, err)

	latest, err := repo.LatestObserved(ctx, "pet-1")
	require.NoError(t, err)
	assert.Equal(t, observed.ID, latest.ID)
}

func TestLocationRepository_RangePagesAndRestarts(t *testing.T) {
	ctx := context.Background()
	repo := NewLocationRepository(newTestDB(t))

	const n = 250
	for i := 0; i < n; i++ {
		_, err := repo.Append(ctx, gpsFix("pet-1", 40, -3, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, gpsFix("pet-2", 40, -3, t0))
	require.NoError(t, err)

	seq := repo.Range(ctx, "pet-1", nil, nil, 500)
	collect := func() []models.Fix {
		var out []models.Fix
		for f, err := range seq {
			require.NoError(t, err)
			out = append(out, f)
		}
		return out
	}

	all := collect()
	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "descending order at %d", i)
	}
	// Restartable: a second pass yields the same sequence.
	assert.Equal(t, all, collect())

	limited, err := repo.List(ctx, "pet-1", nil, nil, 120)
	require.NoError(t, err)
	assert.Len(t, limited, 120)
	assert.Equal(t, all[:120], limited)

	start := t0.Add(10 * time.Second)
	end := t0.Add(19 * time.Second)
	window, err := repo.List(ctx, "pet-1", &start, &end, 500)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.True(t, window[0].Timestamp.Equal(end))
	assert.True(t, window[9].Timestamp.Equal(start))
}

func TestLocationRepository_RangeStopsEarly(t *testing.T) {
	ctx := context.Background()
	repo := NewLocationRepository(newTestDB(t))
	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, gpsFix("pet-1", 40, -3, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	count := 0
	for range repo.Range(ctx, "pet-1", nil, nil, 100) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestGeofenceRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestDB(t))

	a := circleZone("pet-1", t0)
	b := circleZone("pet-1", t0.Add(time.Minute))
	b.Name = "park"
	b.Geometry = models.Geometry{Type: models.GeometryPolygon, Coordinates: [][2]float64{{-3, 40}, {-3, 40.01}, {-2.99, 40.01}}}
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.Create(ctx, a))

	zones, err := repo.ListActiveByEntity(ctx, "pet-1")
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, a.ID, zones[0].ID, "zones are ordered by creation time")
	assert.Equal(t, models.GeometryPolygon, zones[1].Geometry.Type)
	assert.Len(t, zones[1].Geometry.Coordinates, 3)

	a.Name = "house"
	a.AlertConfig.OnApproaching = true
	a.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, a))
	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "house", got.Name)
	assert.True(t, got.AlertConfig.OnApproaching)

	require.NoError(t, repo.SoftDelete(ctx, a.ID, t0.Add(2*time.Hour)))
	zones, err = repo.ListActiveByEntity(ctx, "pet-1")
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, b.ID, zones[0].ID)

	// The row survives soft deletion.
	got, err = repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.True(t, errors.Is(repo.SoftDelete(ctx, a.ID, t0), apperr.ErrNotFound))
	assert.True(t, errors.Is(repo.Update(ctx, a), apperr.ErrNotFound))
	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGeofenceRepository_RecordTransition(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestDB(t))
	z := circleZone("pet-1", t0)
	require.NoError(t, repo.Create(ctx, z))

	stats, err := repo.RecordTransition(ctx, z.ID, models.AlertEntered, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEnters)
	require.NotNil(t, stats.LastEntered)

	stats, err = repo.RecordTransition(ctx, z.ID, models.AlertExited, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalExits)
	assert.InDelta(t, 30, stats.TotalTimeInsideMinutes, 1e-9)

	_, err = repo.RecordTransition(ctx, "missing", models.AlertEntered, t0)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = repo.RecordTransition(ctx, z.ID, models.AlertApproaching, t0)
	assert.Error(t, err)
}

func TestGeofenceRepository_RecordTransitionKeepsNewestTimestamps(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestDB(t))
	z := circleZone("pet-1", t0)
	require.NoError(t, repo.Create(ctx, z))

	_, err := repo.RecordTransition(ctx, z.ID, models.AlertEntered, t0.Add(10*time.Minute))
	require.NoError(t, err)
	stats, err := repo.RecordTransition(ctx, z.ID, models.AlertEntered, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEnters)
	require.NotNil(t, stats.LastEntered)
	assert.True(t, stats.LastEntered.Equal(t0.Add(10*time.Minute)))

	_, err = repo.RecordTransition(ctx, z.ID, models.AlertExited, t0.Add(20*time.Minute))
	require.NoError(t, err)
	stats, err = repo.RecordTransition(ctx, z.ID, models.AlertExited, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stats.LastExited)
	assert.True(t, stats.LastExited.Equal(t0.Add(20*time.Minute)))
	assert.InDelta(t, 10, stats.TotalTimeInsideMinutes, 1e-9)

	got, err := repo.Get(ctx, z.ID)
	require.NoError(t, err)
	assert.True(t, got.Stats.LastExited.Equal(t0.Add(20*time.Minute)))
}

func TestGeofenceRepository_RecordTransitionConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestDB(t))
	z := circleZone("pet-1", t0)
	require.NoError(t, repo.Create(ctx, z))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.RecordTransition(ctx, z.ID, models.AlertEntered, t0.Add(time.Duration(i)*time.Second))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, z.ID)
	require.NoError(t, err)
	assert.EqualValues(t, workers, got.Stats.TotalEnters)
}

func TestGeofenceRepository_TryMarkApproaching(t *testing.T) {
	ctx := context.Background()
	repo := NewGeofenceRepository(newTestDB(t))
	z := circleZone("pet-1", t0)
	require.NoError(t, repo.Create(ctx, z))

	fire, err := repo.TryMarkApproaching(ctx, z.ID, t0, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fire)

	fire, err = repo.TryMarkApproaching(ctx, z.ID, t0.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, fire)

	fire, err = repo.TryMarkApproaching(ctx, z.ID, t0.Add(5*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, fire)

	got, err := repo.Get(ctx, z.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastApproachingAlertAt)
	assert.True(t, got.LastApproachingAlertAt.Equal(t0.Add(5*time.Minute)))
}

func TestAlertRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	zones := NewGeofenceRepository(db)
	repo := NewAlertRepository(db)
	z := circleZone("pet-1", t0)
	require.NoError(t, zones.Create(ctx, z))

	created, err := repo.CreateBatch(ctx, []models.AlertEvent{
		{ZoneID: z.ID, ZoneName: z.Name, EntityID: "pet-1", FixID: 7, Type: models.AlertEntered, Timestamp: t0},
		{ZoneID: z.ID, ZoneName: z.Name, EntityID: "pet-1", FixID: 8, Type: models.AlertExited, Timestamp: t0.Add(time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotZero(t, created[0].ID)
	assert.Less(t, created[0].ID, created[1].ID)

	list, err := repo.ListForEntity(ctx, "pet-1", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.AlertExited, list[0].Type)

	acked, err := repo.Acknowledge(ctx, created[0].ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	unacked, err := repo.ListForEntity(ctx, "pet-1", true, 10)
	require.NoError(t, err)
	require.Len(t, unacked, 1)
	assert.Equal(t, created[1].ID, unacked[0].ID)

	since, err := repo.ListForZoneSince(ctx, z.ID, t0.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, since, 1)

	_, err = repo.Acknowledge(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestLastKnownRepository_OnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fixes := NewLocationRepository(db)
	repo := NewLastKnownRepository(db)

	newer, err := fixes.Append(ctx, gpsFix("pet-1", 40, -3, t0.Add(time.Hour)))
	require.NoError(t, err)
	older, err := fixes.Append(ctx, gpsFix("pet-1", 41, -3, t0))
	require.NoError(t, err)

	moved, err := repo.Advance(ctx, newer)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.Advance(ctx, older)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := repo.Get(ctx, "pet-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.FixID)

	none, err := repo.Get(ctx, "pet-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestWifiCacheRepository_ExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := NewWifiCacheRepository(newTestDB(t))

	entry := models.WifiCacheEntry{
		Fingerprint: "fp-1", Latitude: 40, Longitude: -3, AccuracyMeters: 30,
		Source: "google", Confidence: 0.8, AccessPoints: 3,
		CreatedAt: t0, ExpiresAt: t0.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, repo.Put(ctx, entry))

	got, err := repo.Get(ctx, "fp-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "google", got.Source)

	// Past expiry the physically present row is not returned.
	got, err = repo.Get(ctx, "fp-1", t0.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := repo.PurgeExpired(ctx, t0.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEntityRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewEntityRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, models.Entity{ID: "pet-1", OwnerID: "user-1", Name: "Luna", CreatedAt: t0}))
	require.NoError(t, repo.Upsert(ctx, models.Entity{ID: "pet-1", OwnerID: "user-2", Name: "Luna", CreatedAt: t0}))

	owner, name, err := repo.GetOwnerAndName(ctx, "pet-1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", owner)
	assert.Equal(t, "Luna", name)

	_, _, err = repo.GetOwnerAndName(ctx, "ghost")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestTelemetryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTelemetryRepository(newTestDB(t))

	level := 80
	_, err := repo.Insert(ctx, models.Telemetry{EntityID: "pet-1", BatteryLevel: &level, Charging: true, RecordedAt: t0})
	require.NoError(t, err)

	got, err := repo.Latest(ctx, "pet-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.BatteryLevel)
	assert.Equal(t, 80, *got.BatteryLevel)
	assert.True(t, got.Charging)

	bad := 150
	_, err = repo.Insert(ctx, models.Telemetry{EntityID: "pet-1", BatteryLevel: &bad, RecordedAt: t0})
	assert.True(t, errors.Is(err, apperr.ErrInvalidPayload))
}

func TestRepositories_RejectUnstorableTimestamps(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := NewLocationRepository(db).Append(ctx, gpsFix("pet-1", 40, -3, time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, errors.Is(err, apperr.ErrInvalidFix))

	_, err = NewTelemetryRepository(db).Insert(ctx, models.Telemetry{
		EntityID: "pet-1", RecordedAt: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidPayload))

	fix, err := NewLocationRepository(db).Append(ctx, gpsFix("pet-1", 40, -3, time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, 2200, fix.Timestamp.Year())
}
