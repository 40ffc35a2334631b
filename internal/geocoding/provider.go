// Package geocoding implements radio geolocation providers: HTTP clients
// for Google-compatible geolocate APIs that turn WiFi access points and
// cell towers into coordinates.
package geocoding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

// Result is a provider's answer for one access-point set.
type Result struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Confidence     float64
}

// Provider resolves a radio scan to a position.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, scan models.RadioScan) (Result, error)
}

// Shared transport: connections to providers are reused across requests.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   3 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          50,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   3 * time.Second,
	ExpectContinueTimeout: time.Second,
}

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 64 << 10

// HTTPProvider calls a Google-compatible geolocate endpoint.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	confidence float64
	timeout    time.Duration
	client     *http.Client
}

// NewHTTPProvider builds a provider from its config entry. A zero timeout
// falls back to defaultTimeout.
func NewHTTPProvider(cfg config.ProviderConfig, defaultTimeout time.Duration) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	confidence := cfg.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	return &HTTPProvider{
		name:       cfg.Name,
		endpoint:   cfg.URL,
		apiKey:     cfg.APIKey,
		confidence: confidence,
		timeout:    timeout,
		client:     &http.Client{Transport: sharedTransport},
	}
}

// Name returns the provider name used as the fix source.
func (p *HTTPProvider) Name() string { return p.name }

// Timeout returns the per-call deadline the resolver should apply.
func (p *HTTPProvider) Timeout() time.Duration { return p.timeout }

type geolocateRequest struct {
	ConsiderIP       bool                `json:"considerIp"`
	RadioType        string              `json:"radioType,omitempty"`
	WifiAccessPoints []geolocateWifiItem `json:"wifiAccessPoints,omitempty"`
	CellTowers       []geolocateCellItem `json:"cellTowers,omitempty"`
}

type geolocateCellItem struct {
	CellID            int `json:"cellId"`
	LocationAreaCode  int `json:"locationAreaCode"`
	MobileCountryCode int `json:"mobileCountryCode"`
	MobileNetworkCode int `json:"mobileNetworkCode"`
	SignalStrength    int `json:"signalStrength,omitempty"`
}

type geolocateWifiItem struct {
	MACAddress     string `json:"macAddress"`
	SignalStrength int    `json:"signalStrength,omitempty"`
}

type geolocateResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Resolve posts the scan and decodes the position. Deadline expiry is
// reported as ProviderTimeout, anything else as ProviderFailed.
func (p *HTTPProvider) Resolve(ctx context.Context, scan models.RadioScan) (Result, error) {
	body := geolocateRequest{}
	for _, ap := range scan.AccessPoints {
		body.WifiAccessPoints = append(body.WifiAccessPoints,
			geolocateWifiItem{MACAddress: ap.MAC, SignalStrength: ap.SignalStrength})
	}
	if len(scan.CellTowers) > 0 {
		body.RadioType = scan.RadioType
		for _, c := range scan.CellTowers {
			body.CellTowers = append(body.CellTowers, geolocateCellItem(c))
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, apperr.ProviderFailed(p.name, err)
	}

	endpoint := p.endpoint
	if p.apiKey != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return Result{}, apperr.ProviderFailed(p.name, err)
		}
		q := u.Query()
		q.Set("key", p.apiKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, apperr.ProviderFailed(p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, apperr.ProviderTimeout(p.name, err)
		}
		return Result{}, apperr.ProviderFailed(p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, apperr.ProviderTimeout(p.name, err)
		}
		return Result{}, apperr.ProviderFailed(p.name, err)
	}

	var out geolocateResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return Result{}, apperr.ProviderFailed(p.name, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return Result{}, apperr.ProviderFailed(p.name, fmt.Errorf("decode response: %w", decodeErr))
	}
	if out.Location.Lat < -90 || out.Location.Lat > 90 || out.Location.Lng < -180 || out.Location.Lng > 180 {
		return Result{}, apperr.ProviderFailed(p.name, fmt.Errorf("coordinates out of range (%f, %f)", out.Location.Lat, out.Location.Lng))
	}

	return Result{
		Latitude:       out.Location.Lat,
		Longitude:      out.Location.Lng,
		AccuracyMeters: out.Accuracy,
		Confidence:     p.confidence,
	}, nil
}

// FromConfig builds the provider chain in configured priority order.
func FromConfig(cfg config.WifiConfig) []Provider {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers = append(providers, NewHTTPProvider(pc, cfg.ProviderTimeout))
	}
	return providers
}
