package models

import "time"

// AlertType is the kind of zone transition an alert reports.
type AlertType string

const (
	AlertEntered     AlertType = "entered"
	AlertExited      AlertType = "exited"
	AlertApproaching AlertType = "approaching"
)

// AlertEvent is a detected transition. Only Acknowledged changes after creation.
type AlertEvent struct {
	ID           int64     `json:"id"`
	ZoneID       string    `json:"zoneId"`
	ZoneName     string    `json:"zoneName"`
	EntityID     string    `json:"entityId"`
	FixID        int64     `json:"fixId,omitempty"`
	Type         AlertType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// AlertFilter represents query parameters for alert listings
type AlertFilter struct {
	Unacknowledged bool `form:"unacknowledged"`
	Limit          int  `form:"limit"`
}

// WifiCacheEntry is a resolved access-point fingerprint.
type WifiCacheEntry struct {
	Fingerprint    string    `json:"fingerprint"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	Source         string    `json:"source"`
	Confidence     float64   `json:"confidence"`
	AccessPoints   int       `json:"accessPoints"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is past its TTL at now.
func (e WifiCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Resolution is the outcome of resolving a radio scan.
type Resolution struct {
	Latitude       float64          `json:"latitude"`
	Longitude      float64          `json:"longitude"`
	AccuracyMeters float64          `json:"accuracyMeters"`
	Source         string           `json:"source"`
	Confidence     float64          `json:"confidence"`
	Fingerprint    string           `json:"fingerprint,omitempty"`
	AccessPoints   int              `json:"accessPointsUsed"`
	CellTowers     int              `json:"cellTowersUsed"`
	Method         ResolutionMethod `json:"resolutionMethod"`
}
