// Package config loads service configuration from an optional YAML/JSON
// file with PETTRACK_ environment overrides on top of built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Wifi     WifiConfig     `json:"wifi" yaml:"wifi"`
	Geofence GeofenceConfig `json:"geofence" yaml:"geofence"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Log      LogConfig      `json:"log" yaml:"log"`

	// CacheSweepInterval is how often expired WiFi cache rows are purged.
	CacheSweepInterval time.Duration `json:"cache_sweep_interval" yaml:"cache_sweep_interval"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// RateLimit is the number of ingestion requests allowed per client per RateWindow.
	RateLimit  int           `json:"rate_limit" yaml:"rate_limit"`
	RateWindow time.Duration `json:"rate_window" yaml:"rate_window"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path         string `json:"path" yaml:"path"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

// AuthConfig holds bearer-token settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
}

// ProviderConfig describes one HTTP geolocation provider in the chain.
type ProviderConfig struct {
	Name       string        `json:"name" yaml:"name"`
	URL        string        `json:"url" yaml:"url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
}

// FallbackMode selects the degraded estimate used when every provider fails.
type FallbackMode string

const (
	FallbackNone      FallbackMode = "none"
	FallbackRegion    FallbackMode = "region"
	FallbackLastKnown FallbackMode = "last_known"
)

// FallbackConfig configures the degraded estimate.
type FallbackConfig struct {
	Mode           FallbackMode `json:"mode" yaml:"mode"`
	Latitude       float64      `json:"latitude" yaml:"latitude"`
	Longitude      float64      `json:"longitude" yaml:"longitude"`
	AccuracyMeters float64      `json:"accuracy_meters" yaml:"accuracy_meters"`
	Confidence     float64      `json:"confidence" yaml:"confidence"`
}

// WifiConfig configures access-point resolution.
type WifiConfig struct {
	// MinSignalDBm excludes access points at or below this strength.
	MinSignalDBm    int `json:"min_signal_dbm" yaml:"min_signal_dbm"`
	MaxAccessPoints int `json:"max_access_points" yaml:"max_access_points"`
	// Hybrid limits apply to WiFi networks reported alongside cell towers.
	HybridMinSignalDBm    int              `json:"hybrid_min_signal_dbm" yaml:"hybrid_min_signal_dbm"`
	HybridMaxAccessPoints int              `json:"hybrid_max_access_points" yaml:"hybrid_max_access_points"`
	MaxCellTowers         int              `json:"max_cell_towers" yaml:"max_cell_towers"`
	DefaultRadioType      string           `json:"default_radio_type" yaml:"default_radio_type"`
	CacheTTL              time.Duration    `json:"cache_ttl" yaml:"cache_ttl"`
	CacheBackend          string           `json:"cache_backend" yaml:"cache_backend"`
	RedisAddr             string           `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword         string           `json:"redis_password" yaml:"redis_password"`
	RedisDB               int              `json:"redis_db" yaml:"redis_db"`
	ProviderTimeout       time.Duration    `json:"provider_timeout" yaml:"provider_timeout"`
	ResolveTimeout        time.Duration    `json:"resolve_timeout" yaml:"resolve_timeout"`
	Providers             []ProviderConfig `json:"providers" yaml:"providers"`
	Fallback              FallbackConfig   `json:"fallback" yaml:"fallback"`
}

// GeofenceConfig holds zone defaults.
type GeofenceConfig struct {
	ApproachingDistanceMeters float64 `json:"approaching_distance_meters" yaml:"approaching_distance_meters"`
	CooldownMinutes           int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	StatsDays                 int     `json:"stats_days" yaml:"stats_days"`
}

// HistoryConfig bounds location history queries.
type HistoryConfig struct {
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`
	MaxLimit     int `json:"max_limit" yaml:"max_limit"`
}

// MQTTConfig configures the device subscriber.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BrokerURL   string `json:"broker_url" yaml:"broker_url"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file or env overrides are given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    60,
			RateWindow:   time.Minute,
		},
		Database: DatabaseConfig{
			Path:         "./data/pettrack.db",
			MaxOpenConns: 10,
		},
		Wifi: WifiConfig{
			MinSignalDBm:          -90,
			MaxAccessPoints:       15,
			HybridMinSignalDBm:    -85,
			HybridMaxAccessPoints: 12,
			MaxCellTowers:         6,
			DefaultRadioType:      "gsm",
			CacheTTL:              7 * 24 * time.Hour,
			CacheBackend:          "sqlite",
			ProviderTimeout:       15 * time.Second,
			ResolveTimeout:        20 * time.Second,
			Fallback: FallbackConfig{
				Mode:           FallbackNone,
				Latitude:       40.4168,
				Longitude:      -3.7038,
				AccuracyMeters: 10000,
				Confidence:     0.1,
			},
		},
		Geofence: GeofenceConfig{
			ApproachingDistanceMeters: 50,
			CooldownMinutes:           5,
			StatsDays:                 30,
		},
		History: HistoryConfig{
			DefaultLimit: 100,
			MaxLimit:     500,
		},
		MQTT: MQTTConfig{
			BrokerURL:   "tcp://localhost:1883",
			ClientID:    "pettrack-server",
			TopicPrefix: "pettrack",
			QoS:         1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CacheSweepInterval: time.Hour,
	}
}

// Load builds the configuration: defaults, then the optional file at path,
// then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from PETTRACK_ environment variables.
func (c *Config) ApplyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("PETTRACK_HTTP_ADDR", &c.HTTP.Addr)
	integer("PETTRACK_HTTP_RATE_LIMIT", &c.HTTP.RateLimit)
	duration("PETTRACK_HTTP_RATE_WINDOW", &c.HTTP.RateWindow)

	str("PETTRACK_DB_PATH", &c.Database.Path)
	integer("PETTRACK_DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)

	str("PETTRACK_JWT_SECRET", &c.Auth.JWTSecret)

	integer("PETTRACK_WIFI_MIN_SIGNAL_DBM", &c.Wifi.MinSignalDBm)
	integer("PETTRACK_WIFI_MAX_ACCESS_POINTS", &c.Wifi.MaxAccessPoints)
	integer("PETTRACK_WIFI_HYBRID_MIN_SIGNAL_DBM", &c.Wifi.HybridMinSignalDBm)
	integer("PETTRACK_WIFI_HYBRID_MAX_ACCESS_POINTS", &c.Wifi.HybridMaxAccessPoints)
	integer("PETTRACK_WIFI_MAX_CELL_TOWERS", &c.Wifi.MaxCellTowers)
	str("PETTRACK_WIFI_DEFAULT_RADIO_TYPE", &c.Wifi.DefaultRadioType)
	duration("PETTRACK_WIFI_CACHE_TTL", &c.Wifi.CacheTTL)
	str("PETTRACK_WIFI_CACHE_BACKEND", &c.Wifi.CacheBackend)
	str("PETTRACK_REDIS_ADDR", &c.Wifi.RedisAddr)
	str("PETTRACK_REDIS_PASSWORD", &c.Wifi.RedisPassword)
	duration("PETTRACK_WIFI_PROVIDER_TIMEOUT", &c.Wifi.ProviderTimeout)
	duration("PETTRACK_WIFI_RESOLVE_TIMEOUT", &c.Wifi.ResolveTimeout)
	if v := os.Getenv("PETTRACK_WIFI_FALLBACK_MODE"); v != "" {
		c.Wifi.Fallback.Mode = FallbackMode(v)
	}
	float("PETTRACK_WIFI_FALLBACK_LAT", &c.Wifi.Fallback.Latitude)
	float("PETTRACK_WIFI_FALLBACK_LON", &c.Wifi.Fallback.Longitude)
	float("PETTRACK_WIFI_FALLBACK_ACCURACY", &c.Wifi.Fallback.AccuracyMeters)

	// A Google-compatible key adds (or fills in) the "google" provider.
	if key := os.Getenv("PETTRACK_GOOGLE_API_KEY"); key != "" {
		c.Wifi.Providers = withProviderKey(c.Wifi.Providers, ProviderConfig{
			Name:       "google",
			URL:        "https://www.googleapis.com/geolocation/v1/geolocate",
			Confidence: 0.8,
		}, key)
	}

	float("PETTRACK_GEOFENCE_APPROACHING_DISTANCE", &c.Geofence.ApproachingDistanceMeters)
	integer("PETTRACK_GEOFENCE_COOLDOWN_MINUTES", &c.Geofence.CooldownMinutes)

	integer("PETTRACK_HISTORY_DEFAULT_LIMIT", &c.History.DefaultLimit)
	integer("PETTRACK_HISTORY_MAX_LIMIT", &c.History.MaxLimit)

	boolean("PETTRACK_MQTT_ENABLED", &c.MQTT.Enabled)
	str("PETTRACK_MQTT_BROKER", &c.MQTT.BrokerURL)
	str("PETTRACK_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("PETTRACK_MQTT_USERNAME", &c.MQTT.Username)
	str("PETTRACK_MQTT_PASSWORD", &c.MQTT.Password)
	str("PETTRACK_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	str("PETTRACK_LOG_LEVEL", &c.Log.Level)
	str("PETTRACK_LOG_FORMAT", &c.Log.Format)

	duration("PETTRACK_CACHE_SWEEP_INTERVAL", &c.CacheSweepInterval)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func withProviderKey(providers []ProviderConfig, def ProviderConfig, key string) []ProviderConfig {
	for i := range providers {
		if providers[i].Name == def.Name {
			providers[i].APIKey = key
			return providers
		}
	}
	def.APIKey = key
	return append(providers, def)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateWindow <= 0 {
		return fmt.Errorf("http.rate_limit and http.rate_window must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
	}
	if c.Wifi.MaxAccessPoints <= 0 {
		return fmt.Errorf("wifi.max_access_points must be positive, got %d", c.Wifi.MaxAccessPoints)
	}
	if c.Wifi.HybridMaxAccessPoints <= 0 || c.Wifi.MaxCellTowers <= 0 {
		return fmt.Errorf("wifi.hybrid_max_access_points and wifi.max_cell_towers must be positive")
	}
	if c.Wifi.HybridMinSignalDBm >= 0 {
		return fmt.Errorf("wifi.hybrid_min_signal_dbm must be negative, got %d", c.Wifi.HybridMinSignalDBm)
	}
	switch c.Wifi.DefaultRadioType {
	case "gsm", "cdma", "wcdma", "lte", "nr":
	default:
		return fmt.Errorf("invalid wifi.default_radio_type: %s (must be gsm, cdma, wcdma, lte or nr)", c.Wifi.DefaultRadioType)
	}
	if c.Wifi.CacheTTL <= 0 {
		return fmt.Errorf("wifi.cache_ttl must be positive")
	}
	switch c.Wifi.CacheBackend {
	case "sqlite":
	case "redis":
		if c.Wifi.RedisAddr == "" {
			return fmt.Errorf("wifi.redis_addr is required when cache_backend is redis")
		}
	default:
		return fmt.Errorf("invalid wifi.cache_backend: %s (must be sqlite or redis)", c.Wifi.CacheBackend)
	}
	if c.Wifi.ProviderTimeout <= 0 || c.Wifi.ResolveTimeout <= 0 {
		return fmt.Errorf("wifi.provider_timeout and wifi.resolve_timeout must be positive")
	}
	for i, p := range c.Wifi.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("wifi.providers[%d]: name and url are required", i)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("wifi.providers[%d]: confidence must be within 0..1", i)
		}
	}
	switch c.Wifi.Fallback.Mode {
	case FallbackNone, FallbackLastKnown:
	case FallbackRegion:
		if c.Wifi.Fallback.Latitude < -90 || c.Wifi.Fallback.Latitude > 90 ||
			c.Wifi.Fallback.Longitude < -180 || c.Wifi.Fallback.Longitude > 180 {
			return fmt.Errorf("wifi.fallback coordinates out of range")
		}
	default:
		return fmt.Errorf("invalid wifi.fallback.mode: %s (must be none, region or last_known)", c.Wifi.Fallback.Mode)
	}
	if c.Geofence.ApproachingDistanceMeters < 0 || c.Geofence.CooldownMinutes < 0 {
		return fmt.Errorf("geofence defaults must be non-negative")
	}
	if c.History.DefaultLimit <= 0 || c.History.MaxLimit < c.History.DefaultLimit {
		return fmt.Errorf("history limits invalid: default %d, max %d", c.History.DefaultLimit, c.History.MaxLimit)
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is enabled")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}
	if c.CacheSweepInterval <= 0 {
		return fmt.Errorf("cache_sweep_interval must be positive")
	}
	return nil
}
