package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/geocoding"
	"github.com/onichip/pettrack-backend-go/internal/models"
	"github.com/onichip/pettrack-backend-go/internal/service"
)

// unreachable points at a port nothing listens on, so any command that
// reaches the network fails.
func unreachable() *RedisWifiCache {
	return NewRedisWifiCache(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "pettrack:wifi:abc", key("abc"))
}

func TestPut_DropsExpiredEntriesWithoutNetwork(t *testing.T) {
	c := unreachable()
	defer c.Close()

	err := c.Put(context.Background(), models.WifiCacheEntry{
		Fingerprint: "fp",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})
	assert.NoError(t, err)
}

func TestGet_SurfacesConnectionErrors(t *testing.T) {
	c := unreachable()
	defer c.Close()

	_, err := c.Get(context.Background(), "fp", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get fp")
}

func TestPurgeExpired_IsNoop(t *testing.T) {
	c := unreachable()
	defer c.Close()

	n, err := c.PurgeExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func newMiniCache(t *testing.T) (*RedisWifiCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisWifiCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func entry(fp string, now time.Time, ttl time.Duration) models.WifiCacheEntry {
	return models.WifiCacheEntry{
		Fingerprint:    fp,
		Latitude:       40.4168,
		Longitude:      -3.7038,
		AccuracyMeters: 35,
		Source:         "google",
		Confidence:     0.8,
		AccessPoints:   3,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestRedisWifiCache_PutGet(t *testing.T) {
	c, mr := newMiniCache(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	want := entry("fp-1", now, time.Hour)
	require.NoError(t, c.Put(ctx, want))
	assert.True(t, mr.Exists("pettrack:wifi:fp-1"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("pettrack:wifi:fp-1").Seconds(), 5)

	got, err := c.Get(ctx, "fp-1", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Latitude, got.Latitude)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.AccessPoints, got.AccessPoints)
	assert.True(t, got.ExpiresAt.Equal(want.ExpiresAt))

	missing, err := c.Get(ctx, "fp-2", now)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisWifiCache_IgnoresEntriesPastExpiresAt(t *testing.T) {
	c, mr := newMiniCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, c.Put(ctx, entry("fp-1", now, time.Hour)))

	// Redis still holds the key, but the entry is stale for a later clock.
	got, err := c.Get(ctx, "fp-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, mr.Exists("pettrack:wifi:fp-1"))

	// Once Redis's own TTL passes the key is gone.
	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists("pettrack:wifi:fp-1"))
}

func TestRedisWifiCache_CorruptEntry(t *testing.T) {
	c, mr := newMiniCache(t)
	require.NoError(t, mr.Set("pettrack:wifi:fp-1", "{not json"))

	_, err := c.Get(context.Background(), "fp-1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode cache entry fp-1")
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Name() string { return "google" }

func (p *countingProvider) Resolve(ctx context.Context, scan models.RadioScan) (geocoding.Result, error) {
	p.calls++
	return geocoding.Result{Latitude: 40.4168, Longitude: -3.7038, AccuracyMeters: 35, Confidence: 0.8}, nil
}

func TestRedisWifiCache_BacksResolver(t *testing.T) {
	c, _ := newMiniCache(t)
	p := &countingProvider{}
	r := service.NewWifiResolver(c, []geocoding.Provider{p}, service.WifiResolverConfig{MinSignalDBm: -90}, nil)
	ctx := context.Background()
	aps := []models.AccessPoint{
		{MAC: "00:11:22:33:44:55", SignalStrength: -50},
		{MAC: "66:77:88:99:AA:BB", SignalStrength: -70},
	}

	first, err := r.Resolve(ctx, aps)
	require.NoError(t, err)
	assert.Equal(t, "google", first.Source)

	second, err := r.Resolve(ctx, aps)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, second.Source)
	assert.Equal(t, first.Latitude, second.Latitude)
	assert.Equal(t, 2, second.AccessPoints)
	assert.Equal(t, 1, p.calls)

	// A second resolver instance sharing the same Redis sees the entry.
	other := service.NewWifiResolver(c, []geocoding.Provider{p}, service.WifiResolverConfig{MinSignalDBm: -90}, nil)
	third, err := other.Resolve(ctx, aps)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, third.Source)
	assert.Equal(t, 1, p.calls)
}
