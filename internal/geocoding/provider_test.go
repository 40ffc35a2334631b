package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

var testAPs = models.RadioScan{AccessPoints: []models.AccessPoint{
	{MAC: "00:11:22:33:44:55", SignalStrength: -50},
	{MAC: "66:77:88:99:AA:BB", SignalStrength: -70},
}}

func TestHTTPProvider_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		var body geolocateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.ConsiderIP)
		require.Len(t, body.WifiAccessPoints, 2)
		assert.Equal(t, "00:11:22:33:44:55", body.WifiAccessPoints[0].MACAddress)
		assert.Empty(t, body.CellTowers)
		assert.Empty(t, body.RadioType)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"location":{"lat":40.4168,"lng":-3.7038},"accuracy":25}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "google", URL: srv.URL, APIKey: "secret"}, time.Second)
	res, err := p.Resolve(context.Background(), testAPs)
	require.NoError(t, err)
	assert.InDelta(t, 40.4168, res.Latitude, 1e-9)
	assert.InDelta(t, -3.7038, res.Longitude, 1e-9)
	assert.Equal(t, 25.0, res.AccuracyMeters)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, "google", p.Name())
}

func TestHTTPProvider_ResolveCellTowers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.NotContains(t, raw, "wifiAccessPoints")
		assert.JSONEq(t, `"gsm"`, string(raw["radioType"]))
		assert.JSONEq(t, `[{"cellId":4201,"locationAreaCode":120,"mobileCountryCode":214,"mobileNetworkCode":7,"signalStrength":-71}]`,
			string(raw["cellTowers"]))

		w.Write([]byte(`{"location":{"lat":40.42,"lng":-3.70},"accuracy":900}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "google", URL: srv.URL}, time.Second)
	res, err := p.Resolve(context.Background(), models.RadioScan{
		RadioType: models.RadioGSM,
		CellTowers: []models.CellTower{
			{CellID: 4201, LocationAreaCode: 120, MobileCountryCode: 214, MobileNetworkCode: 7, SignalStrength: -71},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 900.0, res.AccuracyMeters)
}

func TestHTTPProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"notFound"}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "google", URL: srv.URL}, time.Second)
	_, err := p.Resolve(context.Background(), testAPs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProviderFailed))
	assert.Contains(t, err.Error(), "notFound")
}

func TestHTTPProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProvider(config.ProviderConfig{Name: "slow", URL: srv.URL}, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Resolve(ctx, testAPs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProviderTimeout))
}

func TestHTTPProvider_RejectsOutOfRangeCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":{"lat":123,"lng":0},"accuracy":10}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(config.ProviderConfig{Name: "bad", URL: srv.URL}, time.Second)
	_, err := p.Resolve(context.Background(), testAPs)
	assert.True(t, errors.Is(err, apperr.ErrProviderFailed))
}

func TestFromConfig(t *testing.T) {
	providers := FromConfig(config.WifiConfig{
		ProviderTimeout: 2 * time.Second,
		Providers: []config.ProviderConfig{
			{Name: "primary", URL: "http://a.invalid"},
			{Name: "secondary", URL: "http://b.invalid", Timeout: 5 * time.Second, Confidence: 0.6},
		},
	})
	require.Len(t, providers, 2)
	assert.Equal(t, "primary", providers[0].Name())
	assert.Equal(t, 2*time.Second, providers[0].(*HTTPProvider).Timeout())
	assert.Equal(t, 5*time.Second, providers[1].(*HTTPProvider).Timeout())
}
