package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
)

// AccessPoint is a single WiFi network observed by a device.
type AccessPoint struct {
	MAC            string `json:"mac"`
	SignalStrength int    `json:"signalStrength"`
}

// UnmarshalJSON accepts both the device shape ({mac}) and the
// geolocation API shape ({macAddress}).
func (ap *AccessPoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		MAC            string `json:"mac"`
		MACAddress     string `json:"macAddress"`
		SignalStrength int    `json:"signalStrength"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ap.MAC = raw.MAC
	if ap.MAC == "" {
		ap.MAC = raw.MACAddress
	}
	ap.SignalStrength = raw.SignalStrength
	return nil
}

// Radio types accepted for cell tower reports.
const (
	RadioGSM   = "gsm"
	RadioCDMA  = "cdma"
	RadioWCDMA = "wcdma"
	RadioLTE   = "lte"
	RadioNR    = "nr"
)

// ValidRadioType reports whether r is a known radio type.
func ValidRadioType(r string) bool {
	switch r {
	case RadioGSM, RadioCDMA, RadioWCDMA, RadioLTE, RadioNR:
		return true
	}
	return false
}

// CellTower is a serving or neighbouring cell observed by the modem.
type CellTower struct {
	CellID            int `json:"cellId"`
	LocationAreaCode  int `json:"locationAreaCode"`
	MobileCountryCode int `json:"mobileCountryCode"`
	MobileNetworkCode int `json:"mobileNetworkCode"`
	SignalStrength    int `json:"signalStrength,omitempty"`
}

// Key identifies the tower independently of signal strength.
func (c CellTower) Key() string {
	return fmt.Sprintf("%d-%d-%d-%d", c.MobileCountryCode, c.MobileNetworkCode, c.LocationAreaCode, c.CellID)
}

// RadioScan is everything a device heard over the air: WiFi networks,
// cell towers or both.
type RadioScan struct {
	AccessPoints []AccessPoint `json:"wifiAccessPoints,omitempty"`
	CellTowers   []CellTower   `json:"cellTowers,omitempty"`
	RadioType    string        `json:"radioType,omitempty"`
}

// Empty reports whether the scan carries nothing to resolve.
func (s RadioScan) Empty() bool {
	return len(s.AccessPoints) == 0 && len(s.CellTowers) == 0
}

// Hybrid reports whether the scan mixes WiFi and cell observations.
func (s RadioScan) Hybrid() bool {
	return len(s.AccessPoints) > 0 && len(s.CellTowers) > 0
}

// BatteryReading is the battery portion of a device report.
type BatteryReading struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// SensorReading holds optional vital-sign readings from the collar.
type SensorReading struct {
	TemperatureC    *float64 `json:"temperatureC,omitempty"`
	HeartRateBpm    *int     `json:"heartRateBpm,omitempty"`
	RespiratoryRate *int     `json:"respiratoryRate,omitempty"`
	Activity        string   `json:"activity,omitempty"`
}

// LocationPayload is the raw report a device sends. It carries either
// coordinates or a radio scan (WiFi access points, cell towers or both),
// plus optional telemetry.
type LocationPayload struct {
	Latitude         *float64         `json:"latitude,omitempty"`
	Longitude        *float64         `json:"longitude,omitempty"`
	AccuracyMeters   float64          `json:"accuracyMeters,omitempty"`
	SpeedKmh         *float64         `json:"speedKmh,omitempty"`
	Method           ResolutionMethod `json:"method,omitempty"`
	WifiAccessPoints []AccessPoint    `json:"wifiAccessPoints,omitempty"`
	CellTowers       []CellTower      `json:"cellTowers,omitempty"`
	RadioType        string           `json:"radioType,omitempty"`
	Timestamp        *time.Time       `json:"timestamp,omitempty"`
	Battery          *BatteryReading  `json:"battery,omitempty"`
	Sensors          *SensorReading   `json:"sensors,omitempty"`
}

// HasCoordinates reports whether the payload carries a direct position.
func (p LocationPayload) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// HasWifi reports whether the payload carries access points.
func (p LocationPayload) HasWifi() bool {
	return len(p.WifiAccessPoints) > 0
}

// HasCells reports whether the payload carries cell towers.
func (p LocationPayload) HasCells() bool {
	return len(p.CellTowers) > 0
}

// Scan returns the radio observations that need resolving.
func (p LocationPayload) Scan() RadioScan {
	return RadioScan{AccessPoints: p.WifiAccessPoints, CellTowers: p.CellTowers, RadioType: p.RadioType}
}

// HasTelemetry reports whether the payload carries battery or sensor data.
func (p LocationPayload) HasTelemetry() bool {
	return p.Battery != nil || p.Sensors != nil
}

// Telemetry is a stored battery/sensor reading.
type Telemetry struct {
	ID              int64     `json:"id"`
	EntityID        string    `json:"entityId"`
	BatteryLevel    *int      `json:"batteryLevel,omitempty"`
	Charging        bool      `json:"charging"`
	TemperatureC    *float64  `json:"temperatureC,omitempty"`
	HeartRateBpm    *int      `json:"heartRateBpm,omitempty"`
	RespiratoryRate *int      `json:"respiratoryRate,omitempty"`
	Activity        string    `json:"activity,omitempty"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// IngestionResult is the partial-success outcome of one device report.
// Errors holds per-part failures (location resolution, single zones)
// that did not abort the whole report.
type IngestionResult struct {
	Fix            *Fix
	Alerts         []AlertEvent
	Telemetry      *Telemetry
	Retransmission bool
	// Late is set when the fix predates the entity's latest observation.
	Late   bool
	Errors []error
}

// ErrorDetail is the wire form of one collected error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON renders collected errors as code/message pairs.
func (r IngestionResult) MarshalJSON() ([]byte, error) {
	details := make([]ErrorDetail, 0, len(r.Errors))
	for _, err := range r.Errors {
		details = append(details, ErrorDetail{Code: apperr.CodeOf(err), Message: err.Error()})
	}
	alerts := r.Alerts
	if alerts == nil {
		alerts = []AlertEvent{}
	}
	return json.Marshal(struct {
		Fix            *Fix          `json:"fix"`
		Alerts         []AlertEvent  `json:"alerts"`
		Telemetry      *Telemetry    `json:"telemetry,omitempty"`
		Retransmission bool          `json:"retransmission,omitempty"`
		Late           bool          `json:"late,omitempty"`
		Errors         []ErrorDetail `json:"errors"`
	}{r.Fix, alerts, r.Telemetry, r.Retransmission, r.Late, details})
}

// Entity is a tracked thing (a pet) as known to the directory.
type Entity struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
