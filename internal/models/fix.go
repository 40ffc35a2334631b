package models

import (
	"math"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/spatial"
)

// ResolutionMethod is how the device obtained its position.
type ResolutionMethod string

const (
	MethodGPS  ResolutionMethod = "GPS"
	MethodWiFi ResolutionMethod = "WiFi"
	MethodCell ResolutionMethod = "Cell"
)

// Valid reports whether m is one of the known methods.
func (m ResolutionMethod) Valid() bool {
	switch m {
	case MethodGPS, MethodWiFi, MethodCell:
		return true
	}
	return false
}

// Fix sources. A provider-resolved fix carries the provider name instead.
const (
	SourceGPS      = "gps"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// Timestamps are persisted as Unix nanoseconds, which bounds the storable range.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// StorableTime reports whether t survives conversion to Unix nanoseconds.
func StorableTime(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// Fix is a single resolved location observation for an entity.
type Fix struct {
	ID             int64            `json:"id"`
	EntityID       string           `json:"entityId"`
	Latitude       float64          `json:"latitude"`
	Longitude      float64          `json:"longitude"`
	AccuracyMeters float64          `json:"accuracyMeters"`
	SpeedKmh       *float64         `json:"speedKmh,omitempty"`
	Method         ResolutionMethod `json:"resolutionMethod"`
	Source         string           `json:"source"`
	Confidence     float64          `json:"confidence"`
	BatteryLevel   *int             `json:"batteryLevel,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	ReceivedAt     time.Time        `json:"receivedAt"`
}

// Point returns the fix coordinates for geometry tests.
func (f Fix) Point() spatial.Point {
	return spatial.Point{Lat: f.Latitude, Lon: f.Longitude}
}

// IsFallback reports whether the fix is a degraded estimate rather than an observation.
func (f Fix) IsFallback() bool {
	return f.Source == SourceFallback
}

// Validate checks the fix invariants before it is persisted.
func (f Fix) Validate() error {
	if f.EntityID == "" {
		return apperr.InvalidFix("entity id is required")
	}
	if !f.Point().Valid() {
		return apperr.InvalidFix("coordinates out of range (%f, %f)", f.Latitude, f.Longitude)
	}
	if f.AccuracyMeters < 0 {
		return apperr.InvalidFix("accuracy must be non-negative, got %f", f.AccuracyMeters)
	}
	if f.SpeedKmh != nil && *f.SpeedKmh < 0 {
		return apperr.InvalidFix("speed must be non-negative, got %f", *f.SpeedKmh)
	}
	if f.BatteryLevel != nil && (*f.BatteryLevel < 0 || *f.BatteryLevel > 100) {
		return apperr.InvalidFix("battery level must be within 0..100, got %d", *f.BatteryLevel)
	}
	if !f.Method.Valid() {
		return apperr.InvalidFix("unknown resolution method %q", f.Method)
	}
	if f.Timestamp.IsZero() {
		return apperr.InvalidFix("timestamp is required")
	}
	if !StorableTime(f.Timestamp) {
		return apperr.InvalidFix("timestamp %s outside %d..%d", f.Timestamp.Format(time.RFC3339), MinTimestamp.Year(), MaxTimestamp.Year())
	}
	return nil
}

// SameObservation reports whether o is a retransmission of f.
func (f Fix) SameObservation(o Fix) bool {
	return f.EntityID == o.EntityID &&
		f.Timestamp.Equal(o.Timestamp) &&
		f.Latitude == o.Latitude &&
		f.Longitude == o.Longitude
}

// LastKnownLocation is the denormalized pointer to an entity's newest stored fix.
type LastKnownLocation struct {
	EntityID       string    `json:"entityId"`
	FixID          int64     `json:"fixId"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LocationFilter represents query parameters for history lookups
type LocationFilter struct {
	StartTime *time.Time `form:"startTime" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `form:"endTime" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int        `form:"limit"`
}
